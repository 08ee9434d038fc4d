package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// IMAGEMINT_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// IMAGEMINT_LOG_FORMAT selects console or json output. Inside Lambda the
// default is json so CloudWatch Logs Insights can query the fields.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("IMAGEMINT_LOG_LEVEL")))
	log.Logger = zerolog.New(writer(os.Getenv("IMAGEMINT_LOG_FORMAT"), os.Stderr)).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InLambda reports whether the process runs inside the Lambda runtime.
func InLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func writer(format string, out io.Writer) io.Writer {
	switch strings.ToLower(format) {
	case "json":
		return out
	case "console":
		return zerolog.ConsoleWriter{Out: out}
	}
	if InLambda() {
		return out
	}
	return zerolog.ConsoleWriter{Out: out}
}
