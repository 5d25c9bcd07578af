package main

import (
	"io"
	"time"

	"github.com/orchestra-mcp/collab/config"
	"github.com/rs/zerolog"
)

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.CollabConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "collabd").Logger()
}
