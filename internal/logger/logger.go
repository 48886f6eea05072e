package logger

import (
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"gacha-ledger/internal/config"
)

func New() zerolog.Logger {
	return SetLevel(zerolog.DebugLevel)
}

func SetLevel(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger.Level(level)
}

// FromConfig builds the process logger at the configured level. Unknown
// levels fall back to info.
func FromConfig(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return SetLevel(level)
}

var Module = fx.Provide(FromConfig)
