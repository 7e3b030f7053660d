// Package logger provides the structured logger shared by every bridge component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls log level and output format.
type Config struct {
	Level  string `yaml:"level" json:"level" env:"BRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"BRIDGE_LOG_FORMAT"` // text | json
}

// Logger wraps a logrus entry so components can carry default fields.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with a component name.
func NewDefault(component string) *Logger {
	return New(Config{Level: "info"}).Component(component)
}

// NewDiscard returns a logger that drops everything. Used by tests.
func NewDiscard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", name)}
}

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields returns an entry carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Entry.WithFields(logrus.Fields(fields))
}
