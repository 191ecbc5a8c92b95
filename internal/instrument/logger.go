package instrument

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"readapi/internal/config"
)

// NewLogger builds the process logger. Format "console" writes human
// readable lines; anything else writes JSON.
func NewLogger(cfg config.LogConfig) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
