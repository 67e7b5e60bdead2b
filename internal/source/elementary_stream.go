package source

import (
	"io"

	"github.com/bluenviron/hwdecode/internal/defs"
)

const (
	defaultChunkSize = 64 * 1024
)

var profileByExtension = map[string]defs.Profile{
	".264":  defs.ProfileH264High,
	".h264": defs.ProfileH264High,
	".m4v":  defs.ProfileMPEG4ASP,
	".cmp":  defs.ProfileMPEG4ASP,
	".m1v":  defs.ProfileMPEG1,
	".m2v":  defs.ProfileMPEG2Main,
	".mpv":  defs.ProfileMPEG2Main,
}

// ElementaryStream reads a raw elementary stream.
type ElementaryStream struct {
	R         io.ReadCloser
	Extension string
	ChunkSize int

	buf []byte
}

// Initialize initializes ElementaryStream.
func (s *ElementaryStream) Initialize() {
	if s.ChunkSize == 0 {
		s.ChunkSize = defaultChunkSize
	}

	s.buf = make([]byte, s.ChunkSize)
}

// Close implements Source.
func (s *ElementaryStream) Close() error {
	return s.R.Close()
}

// Profile implements Source.
func (s *ElementaryStream) Profile() (defs.Profile, bool) {
	p, ok := profileByExtension[s.Extension]
	return p, ok
}

// Read implements Source.
// The returned slice is valid until the next call.
func (s *ElementaryStream) Read() ([]byte, error) {
	n, err := io.ReadAtLeast(s.R, s.buf, 1)
	if err != nil {
		return nil, err
	}

	return s.buf[:n], nil
}
