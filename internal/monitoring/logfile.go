package monitoring

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions configures the rotating log file.
type LogFileOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultLogFileOptions returns the rotation policy used by the binary.
func DefaultLogFileOptions(filename string) LogFileOptions {
	return LogFileOptions{
		Filename:   filename,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// NewRotatingWriter returns a size-rotated log file writer.
func NewRotatingWriter(opts LogFileOptions) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
}

// TeeToFile sends the standard logger to stderr and a rotating file. The
// returned closer restores stderr-only output and closes the file.
func TeeToFile(opts LogFileOptions) io.Closer {
	lj := NewRotatingWriter(opts)
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return closerFunc(func() error {
		log.SetOutput(os.Stderr)
		return lj.Close()
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
