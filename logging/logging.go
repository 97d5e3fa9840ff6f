// Package logging configures the process-wide zerolog logger and hands out
// component-scoped loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TimeFormat matches the timestamp printed on every console line.
const TimeFormat = "2006-01-02 15:04:05"

// Options selects where and how log lines are written.
type Options struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // console or json
	File    string `yaml:"file"`    // optional, appended
	NoColor bool   `yaml:"no_color"`
}

// Setup installs the global logger. The returned closer releases the log
// file, if any, and is always non-nil.
func Setup(opts Options) (io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nopCloser{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = TimeFormat

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return closer, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: TimeFormat,
			NoColor:    opts.NoColor || opts.File != "",
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// Component returns a logger tagged with the given component name. It is
// derived from the global logger at call time, so call it after Setup.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Camera returns a component logger additionally tagged with a camera name.
func Camera(component, camera string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Str("camera", camera).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
