//go:build linux

package sysmem

import "golang.org/x/sys/unix"

func totalMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	// Totalram is in units of si.Unit bytes. The field widths vary by
	// architecture, hence the explicit conversions.
	return uint64(si.Totalram) * uint64(si.Unit), nil
}
