//go:build !linux && !darwin && !windows

package sysmem

import "errors"

func totalMemory() (uint64, error) {
	return 0, errors.New("total memory detection not supported on this platform")
}
