//go:build windows

package sysmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func totalMemory() (uint64, error) {
	var st windows.MemoryStatusEx
	st.Length = uint32(unsafe.Sizeof(st))
	if err := windows.GlobalMemoryStatusEx(&st); err != nil {
		return 0, err
	}
	return st.TotalPhys, nil
}
