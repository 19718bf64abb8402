// Package logging installs the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options select the handler. The LEDBRIDGE_LOG_LEVEL, LEDBRIDGE_LOG_FORMAT
// and LEDBRIDGE_LOG_FILE environment variables override them.
type Options struct {
	Level  slog.Level
	Format string // text or json
	File   string // stderr when empty
}

var (
	once    sync.Once
	closer  io.Closer
	initErr error
)

// Setup installs the default logger once; later calls return the first
// result. The returned function closes the log file, if any.
func Setup(opts Options) (func() error, error) {
	once.Do(func() {
		var logger *slog.Logger
		logger, closer, initErr = New(withEnv(opts))
		if initErr == nil {
			slog.SetDefault(logger)
		}
	})
	return func() error {
		if closer == nil {
			return nil
		}
		return closer.Close()
	}, initErr
}

// New builds a logger without touching the default one.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		out io.Writer = os.Stderr
		c   io.Closer
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, c = f, f
	}
	h, err := NewHandler(out, opts)
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		return nil, nil, err
	}
	return slog.New(h), c, nil
}

func NewHandler(w io.Writer, opts Options) (slog.Handler, error) {
	ho := &slog.HandlerOptions{Level: opts.Level}
	switch strings.ToLower(opts.Format) {
	case "", "text":
		return slog.NewTextHandler(w, ho), nil
	case "json":
		return slog.NewJSONHandler(w, ho), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func withEnv(opts Options) Options {
	if v := os.Getenv("LEDBRIDGE_LOG_LEVEL"); v != "" {
		if l, err := ParseLevel(v); err == nil {
			opts.Level = l
		}
	}
	if v := os.Getenv("LEDBRIDGE_LOG_FORMAT"); v != "" {
		opts.Format = v
	}
	if v := os.Getenv("LEDBRIDGE_LOG_FILE"); v != "" {
		opts.File = v
	}
	return opts
}
