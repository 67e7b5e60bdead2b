//go:build !linux

package v4l2

import (
	"fmt"
)

// SysfsPath is the directory where Video4Linux2 devices are listed.
var SysfsPath = ""

// Open opens a device in non-blocking mode.
func Open(_ string) (Device, error) {
	return nil, fmt.Errorf("Video4Linux2 is available on Linux only")
}

// Find opens the first memory-to-memory device whose driver name contains every keyword.
func Find(_ ...string) (Device, string, error) {
	return nil, "", fmt.Errorf("Video4Linux2 is available on Linux only")
}
