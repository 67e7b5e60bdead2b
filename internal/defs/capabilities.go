package defs

import (
	"fmt"
)

// Capabilities are the limits of the hardware decoder.
type Capabilities struct {
	Supported      bool
	MaxLevel       uint32
	MaxMacroblocks uint32
	MaxWidth       uint32
	MaxHeight      uint32
}

// QueryCapabilities returns the decoder limits for a profile.
func QueryCapabilities(p Profile) Capabilities {
	c := Capabilities{
		MaxLevel:  16,
		MaxWidth:  3840,
		MaxHeight: 2160,
	}
	c.MaxMacroblocks = (c.MaxWidth * c.MaxHeight) / (16 * 16)

	_, c.Supported = profileNames[p]

	return c
}

// Check checks whether a picture size can be decoded with a profile.
func (c Capabilities) Check(width int, height int) error {
	if !c.Supported {
		return fmt.Errorf("profile not supported")
	}

	if width <= 0 || height <= 0 || uint32(width) > c.MaxWidth || uint32(height) > c.MaxHeight {
		return fmt.Errorf("unsupported size: %dx%d (max %dx%d)", width, height, c.MaxWidth, c.MaxHeight)
	}

	return nil
}
