// Package source contains readers of coded video.
package source

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/logger"
)

// Source is a reader of coded video.
type Source interface {
	// Profile returns the decoder profile of the stream, when it can be guessed.
	Profile() (defs.Profile, bool)

	// Read returns the next chunk of coded data.
	// It returns io.EOF at the end of the stream.
	Read() ([]byte, error)

	Close() error
}

// Open opens a source.
// "-" reads from the standard input. Files with the .ts extension are read as MPEG-TS.
func Open(path string, parent logger.Writer) (Source, error) {
	var rc io.ReadCloser

	if path == "-" {
		rc = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		rc = f
	}

	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".ts" {
		s := &MPEGTS{
			R:      rc,
			Parent: parent,
		}
		err := s.Initialize()
		if err != nil {
			rc.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	}

	s := &ElementaryStream{
		R:         rc,
		Extension: ext,
	}
	s.Initialize()
	return s, nil
}
