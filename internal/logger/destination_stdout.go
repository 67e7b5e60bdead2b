package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

type destinationStdout struct {
	stdout     io.Writer
	structured bool
	useColor   bool

	buf bytes.Buffer
}

func newDestionationStdout(stdout io.Writer, structured bool) destination {
	useColor := false
	if f, ok := stdout.(*os.File); ok {
		useColor = !structured && term.IsTerminal(int(f.Fd()))
	}

	return &destinationStdout{
		stdout:     stdout,
		structured: structured,
		useColor:   useColor,
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...any) {
	d.buf.Reset()

	if d.structured {
		writeStructuredEntry(&d.buf, t, level, format, args)
	} else {
		writePlainEntry(&d.buf, t, level, d.useColor, format, args)
	}

	d.stdout.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}
