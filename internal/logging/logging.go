// Package logging wires the daemon's component loggers to stdout and a rotating file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Flags are the log flags shared by every component logger.
const Flags = log.LstdFlags | log.Lmicroseconds

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a size-rotated log file writer for path. The path "-" or an
// empty path discards file output.
func NewWriter(path string, maxMB int) (io.WriteCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return nopWriteCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if maxMB <= 0 {
		maxMB = 100
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: 7,
		MaxAge:     14,
		Compress:   true,
		LocalTime:  false,
	}, nil
}

// Set holds the output every component logger writes to.
type Set struct {
	out   io.Writer
	file  io.WriteCloser
	app   string
	debug bool
}

// NewSet mirrors logs to stdout and the rotating file at path.
func NewSet(app, path string, maxMB int, level string) (*Set, error) {
	file, err := NewWriter(path, maxMB)
	if err != nil {
		return nil, err
	}
	return &Set{
		out:   io.MultiWriter(os.Stdout, file),
		file:  file,
		app:   app,
		debug: strings.EqualFold(strings.TrimSpace(level), "debug"),
	}, nil
}

// Logger returns a logger prefixed with [app/component].
func (s *Set) Logger(component string) *log.Logger {
	return log.New(s.out, "["+s.app+"/"+component+"] ", Flags)
}

// Debug reports whether debug logging is enabled.
func (s *Set) Debug() bool { return s.debug }

// Debugf returns a printf that only logs at debug level.
func (s *Set) Debugf(l *log.Logger) func(format string, args ...any) {
	return func(format string, args ...any) {
		if s.debug {
			l.Printf("DEBUG "+format, args...)
		}
	}
}

// Writer returns the combined output.
func (s *Set) Writer() io.Writer { return s.out }

// Close closes the file writer.
func (s *Set) Close() error { return s.file.Close() }
