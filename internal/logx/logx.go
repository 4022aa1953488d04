package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Printer is the subset of *log.Logger that components depend on.
type Printer interface {
	Printf(format string, v ...any)
}

// Options controls where log lines go besides the log file.
type Options struct {
	// Tee additionally receives every line, typically os.Stderr for --verbose.
	Tee io.Writer
}

// New creates a logger that writes to a timestamped file inside dir. The file
// name is prefixed with command so runs of different commands are easy to tell
// apart. The returned closer should be closed when logging is no longer
// needed.
func New(dir, command string, opts Options) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := time.Now().Format("20060102-150405") + ".log"
	if command != "" {
		filename = command + "-" + filename
	}
	filePath := filepath.Join(dir, filename)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = file
	if opts.Tee != nil {
		out = io.MultiWriter(file, opts.Tee)
	}
	logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	return logger, file, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Prefixed wraps p so every line starts with prefix.
func Prefixed(p Printer, prefix string) Printer {
	if p == nil {
		return Discard()
	}
	return prefixed{inner: p, prefix: prefix}
}

type prefixed struct {
	inner  Printer
	prefix string
}

func (p prefixed) Printf(format string, v ...any) {
	p.inner.Printf(p.prefix+format, v...)
}
