package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "POLICYLINK_LOG_LEVEL"
	EnvLogNoColor = "POLICYLINK_LOG_NOCOLOR"
)

// InitLogger configures the process-wide zerolog logger with console
// output and environment overrides.
func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    envBool(EnvLogNoColor),
	}
	logger := zerolog.New(output).
		Level(envLevel()).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// InitTestLogger configures quiet logging for test runs.
func InitTestLogger() zerolog.Logger {
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	log.Logger = logger
	return logger
}

func envLevel() zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func envBool(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}
