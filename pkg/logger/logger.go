// Package logger constructs the structured logger used throughout hydrodb.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a production SugaredLogger tagged with the given service name.
// Output goes to stdout in JSON with ISO8601 timestamps. If the logger cannot
// be constructed a no-op logger is returned so callers never receive nil.
func New(service string) *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": service,
		"pid":     os.Getpid(),
	}

	log, err := config.Build(zap.WithCaller(true))
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return log.Sugar()
}

// NewNop returns a logger that discards everything. Useful as a default in
// config structs where the caller did not supply a logger.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
