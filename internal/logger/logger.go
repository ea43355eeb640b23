package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/safeshield/telemetry/internal/config"
)

// Init configures the global logger. Every line carries the service name so
// agent, gateway and oracle logs can be told apart when aggregated.
func Init(service string, lcfg config.LoggingConfig) {
	zerolog.SetGlobalLevel(parseLevel(lcfg.Level))

	var base zerolog.Logger
	if strings.ToLower(lcfg.Format) == "console" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		// default json
		base = zerolog.New(os.Stderr)
	}
	log.Logger = base.With().Timestamp().Str("service", service).Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
