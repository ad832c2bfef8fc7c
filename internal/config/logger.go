package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Logger struct {
	Level              string `toml:"level" json:"level"`
	RequestLevel       string `toml:"request_level" json:"requestLevel"`
	PrettyPrintConsole bool   `toml:"pretty_print_console" json:"prettyPrintConsole"`
}

// Apply configures the global zerolog logger.
func (l Logger) Apply() {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}
}

// RequestZerologLevel is the level request tracing in the provider chain logs at.
func (l Logger) RequestZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(l.RequestLevel)
	if err != nil || l.RequestLevel == "" {
		return zerolog.DebugLevel
	}
	return level
}
