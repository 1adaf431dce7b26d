package pkg

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelDebug
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{FullTimestamp: true},
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.ErrorLevel,
	ExitFunc:  os.Exit,
}

func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelNone:
		logger.SetOutput(io.Discard)
	case LogLevelErrOnly:
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelDebug:
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.WithField("level", level).Debug("log level set")
}

// ParseLogLevel maps the flag values accepted by the binaries onto a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "none", "off":
		return LogLevelNone
	case "debug":
		return LogLevelDebug
	}
	return LogLevelErrOnly
}

func WithFields(fields logrus.Fields) *logrus.Entry { return logger.WithFields(fields) }

var (
	InfoLog  = logger.Infoln
	ErrorLog = logger.Errorln
	FatalLog = logger.Fatalln
	WarnLog  = logger.Warnln
	DebugLog = logger.Debugln
)
