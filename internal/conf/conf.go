// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/bluenviron/hwdecode/internal/conf/env"
	"github.com/bluenviron/hwdecode/internal/conf/yamlwrapper"
	"github.com/bluenviron/hwdecode/internal/logger"
)

// EnvPrefix is the prefix of environment variables that override the configuration.
const EnvPrefix = "HWDEC"

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a configuration.
type Conf struct {
	// Log
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogStructured   bool            `json:"logStructured"`
	LogFile         string          `json:"logFile"`

	// Devices
	DecoderDevice   string   `json:"decoderDevice"`
	DecoderDriver   []string `json:"decoderDriver"`
	ConverterDevice string   `json:"converterDevice"`
	ConverterDriver []string `json:"converterDriver"`

	// Buffers
	StreamBufferSize    StringSize `json:"streamBufferSize"`
	RingBufferSize      StringSize `json:"ringBufferSize"`
	InputBuffers        int        `json:"inputBuffers"`
	CaptureExtraBuffers int        `json:"captureExtraBuffers"`
	ConverterBuffers    int        `json:"converterBuffers"`

	// Timing
	PollTimeout         StringDuration `json:"pollTimeout"`
	HeaderRetryInterval StringDuration `json:"headerRetryInterval"`
	HeaderRetries       int            `json:"headerRetries"`

	// Debug
	DumpBitstream bool   `json:"dumpBitstream"`
	RawDumpFile   string `json:"rawDumpFile"`
}

func (conf *Conf) setDefaults() {
	// Log
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "hwdecode.log"

	// Devices
	conf.DecoderDriver = []string{"s5p-mfc-dec"}
	conf.ConverterDriver = []string{"fimc", "m2m"}

	// Buffers
	conf.StreamBufferSize = 1024 * 1024
	conf.RingBufferSize = 4 * 1024 * 1024
	conf.InputBuffers = 2
	conf.CaptureExtraBuffers = 1
	conf.ConverterBuffers = 3

	// Timing
	conf.PollTimeout = StringDuration(1 * time.Second)
	conf.HeaderRetryInterval = StringDuration(10 * time.Millisecond)
	conf.HeaderRetries = 100
}

// Load loads a Conf.
// When fpath is empty, the first existing path among defaultConfPaths is used,
// and the file is optional.
// It returns the path of the file that has been loaded.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}
	conf.setDefaults()

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load(EnvPrefix, conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		if fpath == "" {
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = yamlwrapper.Unmarshal(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// Log

	if slices.Contains(conf.LogDestinations, logger.DestinationFile) && conf.LogFile == "" {
		return fmt.Errorf("'logFile' must be set when logging to a file")
	}

	// Devices

	if conf.DecoderDevice == "" && len(conf.DecoderDriver) == 0 {
		return fmt.Errorf("either 'decoderDevice' or 'decoderDriver' must be set")
	}

	// Buffers

	if conf.StreamBufferSize < 1024 {
		return fmt.Errorf("'streamBufferSize' must be at least 1KB")
	}
	if conf.RingBufferSize < conf.StreamBufferSize {
		return fmt.Errorf("'ringBufferSize' must be greater or equal than 'streamBufferSize'")
	}
	if conf.InputBuffers < 1 || conf.InputBuffers > 32 {
		return fmt.Errorf("'inputBuffers' must be between 1 and 32")
	}
	if conf.CaptureExtraBuffers < 1 || conf.CaptureExtraBuffers > 32 {
		return fmt.Errorf("'captureExtraBuffers' must be between 1 and 32")
	}
	if conf.ConverterBuffers < 1 || conf.ConverterBuffers > 32 {
		return fmt.Errorf("'converterBuffers' must be between 1 and 32")
	}

	// Timing

	if conf.PollTimeout <= 0 {
		return fmt.Errorf("'pollTimeout' must be greater than zero")
	}
	if conf.HeaderRetryInterval <= 0 {
		return fmt.Errorf("'headerRetryInterval' must be greater than zero")
	}
	if conf.HeaderRetries < 1 {
		return fmt.Errorf("'headerRetries' must be at least 1")
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}
