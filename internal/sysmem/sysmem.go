// Package sysmem reports the physical memory of the host. It backs the
// default resource budgets used when none are configured explicitly.
package sysmem

// TotalMemory returns the total physical RAM of the host in bytes.
// On platforms without a detection path it returns 0 and an error; callers
// are expected to fall back to a fixed default.
func TotalMemory() (uint64, error) {
	return totalMemory()
}
