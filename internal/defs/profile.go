// Package defs contains shared definitions.
package defs

import (
	"fmt"
)

// Codec is a bitstream syntax family.
type Codec int

// codecs.
const (
	CodecH264 Codec = iota
	CodecMPEG4
	CodecMPEG12
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecMPEG4:
		return "MPEG-4"
	case CodecMPEG12:
		return "MPEG-1/2"
	}
	return fmt.Sprintf("unknown (%d)", int(c))
}

// Profile is a decoder profile.
type Profile int

// profiles.
const (
	ProfileMPEG1 Profile = iota
	ProfileMPEG2Simple
	ProfileMPEG2Main
	ProfileH264Baseline
	ProfileH264Main
	ProfileH264High
	ProfileMPEG4SP
	ProfileMPEG4ASP
)

var profileNames = map[Profile]string{
	ProfileMPEG1:        "mpeg1",
	ProfileMPEG2Simple:  "mpeg2-simple",
	ProfileMPEG2Main:    "mpeg2-main",
	ProfileH264Baseline: "h264-baseline",
	ProfileH264Main:     "h264-main",
	ProfileH264High:     "h264-high",
	ProfileMPEG4SP:      "mpeg4-sp",
	ProfileMPEG4ASP:     "mpeg4-asp",
}

// Profiles returns all supported profiles.
func Profiles() []Profile {
	return []Profile{
		ProfileMPEG1,
		ProfileMPEG2Simple,
		ProfileMPEG2Main,
		ProfileH264Baseline,
		ProfileH264Main,
		ProfileH264High,
		ProfileMPEG4SP,
		ProfileMPEG4ASP,
	}
}

// String implements fmt.Stringer.
func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%d)", int(p))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(b []byte) error {
	for k, v := range profileNames {
		if v == string(b) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("invalid profile: '%s'", string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Codec returns the syntax family of the profile.
func (p Profile) Codec() Codec {
	switch p {
	case ProfileH264Baseline, ProfileH264Main, ProfileH264High:
		return CodecH264

	case ProfileMPEG4SP, ProfileMPEG4ASP:
		return CodecMPEG4
	}
	return CodecMPEG12
}

// H264ProfileIdc returns the profile_idc that is written into synthesized SPS.
// Profiles that are not H264 map to High.
func (p Profile) H264ProfileIdc() uint8 {
	switch p {
	case ProfileH264Baseline:
		return 66
	case ProfileH264Main:
		return 77
	}
	return 100
}
