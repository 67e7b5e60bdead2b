//go:build linux

package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysfsPath is the directory where Video4Linux2 devices are listed.
var SysfsPath = "/sys/class/video4linux"

// Find opens the first memory-to-memory device whose driver name contains every keyword.
// It returns the device and its path.
func Find(keywords ...string) (Device, string, error) {
	entries, err := os.ReadDir(SysfsPath)
	if err != nil {
		return nil, "", err
	}

outer:
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}

		name, err := os.ReadFile(filepath.Join(SysfsPath, entry.Name(), "name"))
		if err != nil {
			continue
		}

		for _, kw := range keywords {
			if !strings.Contains(string(name), kw) {
				continue outer
			}
		}

		target, err := os.Readlink(filepath.Join(SysfsPath, entry.Name()))
		if err != nil {
			target = entry.Name()
		}

		path := filepath.Join("/dev", filepath.Base(target))

		dev, err := Open(path)
		if err != nil {
			continue
		}

		caps, err := dev.QueryCapability()
		if err != nil || !IsM2M(caps.Capabilities) {
			dev.Close() //nolint:errcheck
			continue
		}

		return dev, path, nil
	}

	return nil, "", fmt.Errorf("no device found with name containing %v", keywords)
}
