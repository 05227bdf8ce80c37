// Package logging wires up structured logging for the service via
// logrus, configured from internal/config's LoggingConfig. Every
// ambient concern in this codebase has a dedicated setup function
// rather than packages calling the global logrus instance directly
// with ad-hoc formatting.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a configured *logrus.Logger from level and format ("text"
// or "json"). An unrecognized level falls back to info rather than
// erroring, since a bad VECTORDB_LOG_LEVEL shouldn't block startup.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// WithComponent returns an entry tagged with the component field, used
// to identify a log line's source (httpapi tags its lines "httpapi",
// cmd/vectordb tags its lines "main").
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// RequestFields builds the standard field set attached to every HTTP
// access log line.
func RequestFields(method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"method": method,
		"path":   path,
		"status": status,
	}
}

