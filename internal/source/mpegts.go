package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/asticode/go-astits"

	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/logger"
)

var errNoVideoTrack = errors.New(
	"the stream doesn't contain any supported video track, which are currently " +
		"H264, MPEG-4 Video, MPEG-1/2 Video")

func profileFromStreamType(t astits.StreamType) (defs.Profile, bool) {
	switch t {
	case astits.StreamTypeH264Video:
		return defs.ProfileH264High, true

	case astits.StreamTypeMPEG4Video:
		return defs.ProfileMPEG4ASP, true

	case astits.StreamTypeMPEG1Video:
		return defs.ProfileMPEG1, true

	case astits.StreamTypeMPEG2Video:
		return defs.ProfileMPEG2Main, true
	}

	return 0, false
}

// MPEGTS reads the first video track of a MPEG-TS stream.
type MPEGTS struct {
	R      io.ReadCloser
	Parent logger.Writer

	dem     *astits.Demuxer
	pid     uint16
	profile defs.Profile
}

// Initialize initializes MPEGTS.
// It reads the stream until the program map table is found.
func (s *MPEGTS) Initialize() error {
	s.dem = astits.NewDemuxer(context.Background(), s.R, astits.DemuxerOptPacketSize(188))

	for {
		data, err := s.dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return errNoVideoTrack
			}
			return err
		}

		if data.PMT == nil {
			continue
		}

		for _, es := range data.PMT.ElementaryStreams {
			p, ok := profileFromStreamType(es.StreamType)
			if !ok {
				s.Log(logger.Debug, "skipping track %d, stream type %d", es.ElementaryPID, es.StreamType)
				continue
			}

			s.pid = es.ElementaryPID
			s.profile = p
			s.Log(logger.Info, "reading track %d (%v)", s.pid, p)
			return nil
		}

		return errNoVideoTrack
	}
}

// Close implements Source.
func (s *MPEGTS) Close() error {
	return s.R.Close()
}

// Log implements logger.Writer.
func (s *MPEGTS) Log(level logger.Level, format string, args ...any) {
	s.Parent.Log(level, "[mpegts] "+format, args...)
}

// Profile implements Source.
func (s *MPEGTS) Profile() (defs.Profile, bool) {
	return s.profile, true
}

// Read implements Source.
// It returns the payload of the next PES packet of the video track.
func (s *MPEGTS) Read() ([]byte, error) {
	for {
		data, err := s.dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, io.EOF
			}
			if strings.HasPrefix(err.Error(), "astits: parsing PES data failed") {
				s.Log(logger.Warn, "%v", err)
				continue
			}
			return nil, fmt.Errorf("unable to demux: %w", err)
		}

		if data.PES == nil || data.PID != s.pid {
			continue
		}

		return data.PES.Data, nil
	}
}
