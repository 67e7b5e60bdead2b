package jsonwrapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testStruct struct {
	Device  string   `json:"device"`
	Buffers int      `json:"buffers"`
	Drivers []string `json:"drivers"`
}

func TestUnmarshalUnknownFields(t *testing.T) {
	var dest testStruct
	err := Decode(strings.NewReader(`{"device": "/dev/video6", "unknown": 1}`), &dest)
	require.EqualError(t, err, "json: unknown field \"unknown\"")
}

func TestUnmarshalSliceReplaced(t *testing.T) {
	dest := testStruct{
		Drivers: []string{"fimc", "m2m", "extra"},
	}

	err := Unmarshal([]byte(`{"drivers": ["s5p"]}`), &dest)
	require.NoError(t, err)
	require.Equal(t, testStruct{Drivers: []string{"s5p"}}, dest)
}

func TestUnmarshalSliceNil(t *testing.T) {
	dest := testStruct{
		Drivers: []string{"fimc"},
	}

	err := Unmarshal([]byte(`{"drivers": null}`), &dest)
	require.EqualError(t, err, "cannot set slice 'drivers' to nil")

	var list []string
	err = Unmarshal([]byte(`null`), &list)
	require.EqualError(t, err, "cannot set slice to nil")
}
