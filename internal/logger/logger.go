package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with the fields the scheduler logs by.
type Logger struct {
	*logrus.Logger
}

// New creates a JSON logger at the given level, falling back to info.
func New(level string) *Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// Discard is a logger that writes nothing, for tests.
func Discard() *Logger {
	l := New("panic")
	l.SetOutput(io.Discard)
	return l
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

func (l *Logger) WithRequestID(id string) *logrus.Entry {
	return l.Logger.WithField("request_id", id)
}

func (l *Logger) WithUserID(id string) *logrus.Entry {
	return l.Logger.WithField("user_id", id)
}
