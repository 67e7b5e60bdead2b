package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2003, 11, 4, 23, 15, 8, 431232, time.UTC)
}

func TestLoggerToStdout(t *testing.T) {
	for _, ca := range []string{
		"plain",
		"structured",
	} {
		t.Run(ca, func(t *testing.T) {
			var buf bytes.Buffer

			l := &Logger{
				Destinations: []Destination{DestinationStdout},
				Structured:   (ca == "structured"),
				timeNow:      testTime,
				stdout:       &buf,
			}
			err := l.Initialize()
			require.NoError(t, err)
			defer l.Close()

			l.Log(Info, "[session %s] decoded %d pictures", "abc", 12)

			if ca == "plain" {
				require.Equal(t, "2003/11/04 23:15:08 INF [session abc] decoded 12 pictures\n", buf.String())
			} else {
				require.Equal(t, `{"timestamp":"2003-11-04T23:15:08.000431232Z",`+
					`"level":"INF","message":"[session abc] decoded 12 pictures"}`+"\n", buf.String())
			}
		})
	}
}

func TestLoggerToFile(t *testing.T) {
	for _, ca := range []string{
		"plain",
		"structured",
	} {
		t.Run(ca, func(t *testing.T) {
			fpath := filepath.Join(t.TempDir(), "hwdecode.log")

			l := &Logger{
				Level:        Debug,
				Destinations: []Destination{DestinationFile},
				Structured:   ca == "structured",
				File:         fpath,
				timeNow:      testTime,
			}
			err := l.Initialize()
			require.NoError(t, err)
			defer l.Close()

			l.Log(Warn, "dropped %d bytes", 42)

			buf, err := os.ReadFile(fpath)
			require.NoError(t, err)

			if ca == "plain" {
				require.Equal(t, "2003/11/04 23:15:08 WAR dropped 42 bytes\n", string(buf))
			} else {
				require.Equal(t, `{"timestamp":"2003-11-04T23:15:08.000431232Z",`+
					`"level":"WAR","message":"dropped 42 bytes"}`+"\n", string(buf))
			}
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{
		Level:        Info,
		Destinations: []Destination{DestinationStdout},
		timeNow:      testTime,
		stdout:       &buf,
	}
	err := l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Debug, "hidden")
	require.Equal(t, "", buf.String())

	l.SetLevel(Debug)
	l.Log(Debug, "visible")
	require.Equal(t, "2003/11/04 23:15:08 DEB visible\n", buf.String())
}

func TestLoggerStructuredEscape(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{
		Destinations: []Destination{DestinationStdout},
		Structured:   true,
		timeNow:      testTime,
		stdout:       &buf,
	}
	err := l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Error, `bad "value"`)
	require.Equal(t, `{"timestamp":"2003-11-04T23:15:08.000431232Z",`+
		`"level":"ERR","message":"bad \"value\""}`+"\n", buf.String())
}
