package testutils

import (
	"encoding/json"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewDebugLogger returns a debug-level logger on stderr so failing tests show
// the collaborator calls that led up to them.
func NewDebugLogger() *logrus.Logger {
	return &logrus.Logger{
		Out:       os.Stderr,
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.DebugLevel,
		ExitFunc:  os.Exit,
	}
}

// NewSilentLogger returns a logger that discards everything.
func NewSilentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MustJSON marshals v or panics. Builders use it to splice values into JSON profiles.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
