// Package session contains a decode session, that links a stream framer
// with a hardware decoding pipeline.
package session

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/google/uuid"

	"github.com/bluenviron/hwdecode/internal/conf"
	"github.com/bluenviron/hwdecode/internal/defs"
	"github.com/bluenviron/hwdecode/internal/framer"
	"github.com/bluenviron/hwdecode/internal/h264"
	"github.com/bluenviron/hwdecode/internal/logger"
	"github.com/bluenviron/hwdecode/internal/pipeline"
	"github.com/bluenviron/hwdecode/internal/v4l2"
)

const (
	dumpedBytes = 16
)

// Parameters are the parameters of a session.
type Parameters struct {
	Profile defs.Profile
	Width   int
	Height  int
}

// Session is a decode session.
// It is not safe for concurrent use.
type Session struct {
	Conf    *conf.Conf
	Profile defs.Profile
	Width   int
	Height  int
	Parent  logger.Writer

	// optional
	OpenDevice func(path string) (v4l2.Device, error)
	FindDevice func(keywords ...string) (v4l2.Device, string, error)

	id          string
	fr          *framer.Framer
	pl          *pipeline.Pipeline
	synthesizer *h264.Synthesizer
	lastHeader  []byte
	rawDump     *os.File
}

// Open opens a session with the hardware devices described by the configuration.
func Open(cnf *conf.Conf, parent logger.Writer, profile defs.Profile, width int, height int) (*Session, error) {
	s := &Session{
		Conf:    cnf,
		Profile: profile,
		Width:   width,
		Height:  height,
		Parent:  parent,
	}

	err := s.Initialize()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Initialize initializes Session.
func (s *Session) Initialize() error {
	if s.OpenDevice == nil {
		s.OpenDevice = v4l2.Open
	}
	if s.FindDevice == nil {
		s.FindDevice = v4l2.Find
	}

	err := defs.QueryCapabilities(s.Profile).Check(s.Width, s.Height)
	if err != nil {
		return fmt.Errorf("unable to decode %v: %w", s.Profile, err)
	}

	s.id = uuid.New().String()

	dec, err := s.openDevice("decoder", s.Conf.DecoderDevice, s.Conf.DecoderDriver)
	if err != nil {
		return err
	}

	conv, err := s.openDevice("converter", s.Conf.ConverterDevice, s.Conf.ConverterDriver)
	if err != nil {
		if s.Conf.ConverterDevice != "" {
			dec.Close() //nolint:errcheck
			return err
		}

		// the converter is needed only when the decoder cannot produce untiled pictures.
		s.Log(logger.Debug, "%v", err)
		conv = nil
	}

	s.pl = &pipeline.Pipeline{
		Decoder:             dec,
		Profile:             s.Profile,
		Width:               s.Width,
		Height:              s.Height,
		StreamBufferSize:    int(s.Conf.StreamBufferSize),
		InputBuffers:        s.Conf.InputBuffers,
		CaptureExtraBuffers: s.Conf.CaptureExtraBuffers,
		ConverterBuffers:    s.Conf.ConverterBuffers,
		PollTimeout:         time.Duration(s.Conf.PollTimeout),
		HeaderRetryInterval: time.Duration(s.Conf.HeaderRetryInterval),
		HeaderRetries:       s.Conf.HeaderRetries,
		Parent:              s,
	}
	if conv != nil {
		s.pl.Converter = conv
	}

	err = s.pl.Initialize()
	if err != nil {
		if conv != nil {
			conv.Close() //nolint:errcheck
		}
		dec.Close() //nolint:errcheck
		return err
	}

	s.fr = framer.New(s.Profile.Codec(), int(s.Conf.RingBufferSize))

	if s.Profile.Codec() == defs.CodecH264 {
		s.synthesizer = &h264.Synthesizer{
			Width:      s.Width,
			Height:     s.Height,
			ProfileIdc: s.Profile.H264ProfileIdc(),
		}
	}

	if s.Conf.RawDumpFile != "" {
		s.rawDump, err = os.OpenFile(s.Conf.RawDumpFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			s.pl.Close()
			return err
		}
	}

	s.Log(logger.Info, "opened, %v %dx%d", s.Profile, s.Width, s.Height)

	return nil
}

// Close closes the session and releases the devices.
func (s *Session) Close() {
	s.Log(logger.Info, "closing")

	s.pl.Close()

	if s.rawDump != nil {
		s.rawDump.Close()
	}
}

// Log implements logger.Writer.
func (s *Session) Log(level logger.Level, format string, args ...any) {
	s.Parent.Log(level, "[session "+s.id+"] "+format, args...)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Parameters returns the parameters of the session.
func (s *Session) Parameters() Parameters {
	return Parameters{
		Profile: s.Profile,
		Width:   s.Width,
		Height:  s.Height,
	}
}

// Stats returns the statistics of the underlying pipeline.
func (s *Session) Stats() pipeline.Stats {
	return s.pl.Stats()
}

func (s *Session) openDevice(kind string, path string, keywords []string) (v4l2.Device, error) {
	if path != "" {
		dev, err := s.OpenDevice(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open %s: %w", kind, err)
		}

		caps, err := dev.QueryCapability()
		if err != nil || !v4l2.IsM2M(caps.Capabilities) {
			dev.Close() //nolint:errcheck
			return nil, fmt.Errorf("%s %s is not a memory-to-memory device", kind, path)
		}

		s.Log(logger.Info, "%s is %s (%s)", kind, path, caps.Driver)
		return dev, nil
	}

	dev, path, err := s.FindDevice(keywords...)
	if err != nil {
		return nil, fmt.Errorf("unable to find %s: %w", kind, err)
	}

	s.Log(logger.Info, "%s is %s", kind, path)
	return dev, nil
}

// hasInBandSPS checks whether the buffers contain a valid SPS.
func hasInBandSPS(buffers [][]byte) bool {
	for _, buf := range buffers {
		var au mch264.AnnexB
		err := au.Unmarshal(buf)
		if err != nil {
			continue
		}

		for _, nalu := range au {
			if len(nalu) == 0 || mch264.NALUType(nalu[0]&0x1F) != mch264.NALUTypeSPS {
				continue
			}

			var sps mch264.SPS
			if sps.Unmarshal(nalu) == nil {
				return true
			}
		}
	}

	return false
}

func (s *Session) dump(buffers [][]byte) {
	if s.Conf.DumpBitstream {
		for i, buf := range buffers {
			n := min(len(buf), dumpedBytes)
			s.Log(logger.Debug, "buffer %d, size %d: %s", i, len(buf), hex.EncodeToString(buf[:n]))
		}
	}

	if s.rawDump != nil {
		for _, buf := range buffers {
			_, err := s.rawDump.Write(buf)
			if err != nil {
				s.Log(logger.Warn, "unable to write raw dump: %v", err)
				return
			}
		}
	}
}

// header returns the parameter sets to inject before buffers, if any.
func (s *Session) header(buffers [][]byte, info *h264.PictureInfo) ([]byte, error) {
	if s.synthesizer == nil || info == nil || hasInBandSPS(buffers) {
		return nil, nil
	}

	header, err := s.synthesizer.ParameterSets(info)
	if err != nil {
		return nil, err
	}

	if bytes.Equal(header, s.lastHeader) {
		return nil, nil
	}

	return header, nil
}

// Decode pushes coded data into the session and hands complete access units to the decoder.
// info is used to synthesize H264 parameter sets, when the caller knows the picture
// parameters and the stream does not carry them. It can be nil.
// When the stream buffer cannot contain header and buffers, nothing is pushed
// and framer.ErrBufferFull is returned.
func (s *Session) Decode(buffers [][]byte, info *h264.PictureInfo) error {
	header, err := s.header(buffers, info)
	if err != nil {
		return err
	}

	size := len(header)
	for _, buf := range buffers {
		size += len(buf)
	}

	if size > s.fr.Free() {
		return framer.ErrBufferFull
	}

	s.dump(buffers)

	if header != nil {
		err = s.fr.Push(header)
		if err != nil {
			return err
		}

		s.lastHeader = append(s.lastHeader[:0], header...)
		s.Log(logger.Debug, "injecting parameter sets (%d bytes)", len(header))
	}

	for _, buf := range buffers {
		err = s.fr.Push(buf)
		if err != nil {
			return err
		}
	}

	if !s.pl.HeaderProcessed() {
		ok, err := s.pl.ProcessHeader(s.fr)
		if err != nil {
			return err
		}

		if ok {
			s.Log(logger.Info, "stream header processed, %s", s.describePipeline())
		}
		return nil
	}

	err = s.pl.Feed(s.fr)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotReady) {
			s.Log(logger.Debug, "decoder is busy, %d bytes are waiting", s.fr.Available())
			return nil
		}
		return err
	}

	return nil
}

func (s *Session) describePipeline() string {
	st := s.pl.Stats()
	if st.Converting {
		return fmt.Sprintf("%d decoder slots, %d converter slots", st.Capture.Size, st.ConverterCapture.Size)
	}
	return fmt.Sprintf("%d decoder slots, no conversion", st.Capture.Size)
}

// Flush marks the end of the stream, allowing the last access unit to be decoded.
func (s *Session) Flush() {
	s.fr.Flush()
}

// Free returns the number of bytes that can be passed to Decode.
func (s *Session) Free() int {
	return s.fr.Free()
}

// GetPicture passes a decoded picture to the presenter, if available.
// It never blocks and returns false when no picture is ready.
func (s *Session) GetPicture(pr pipeline.Presenter) (bool, error) {
	return s.pl.GetPicture(pr)
}
