package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/config"
)

// newLogger builds the root logger from log.level and log.format.
func newLogger(lc config.LogConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if lc.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "vramd").Logger()
}
