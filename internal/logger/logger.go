// Package logger is a thin package-level facade over logrus so the rest of
// the module can log without carrying a logger instance around.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var log = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	return l
}

// Init reconfigures the global logger. format is "text" or "json".
func Init(level Level, format string) {
	switch level {
	case LevelDebug:
		log.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		log.SetLevel(logrus.WarnLevel)
	case LevelError:
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) { log.SetOutput(w) }

func Debug(format string, args ...any) { log.Debugf(format, args...) }
func Info(format string, args ...any)  { log.Infof(format, args...) }
func Warn(format string, args ...any)  { log.Warnf(format, args...) }
func Error(format string, args ...any) { log.Errorf(format, args...) }

func init() {
	log.SetOutput(os.Stdout)
}
