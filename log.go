package demuxcheck

import (
	"github.com/bluenviron/demuxcheck/pkg/logger"
)

// LogLevel is a log level.
type LogLevel = logger.Level

// Log levels.
const (
	LogLevelDebug = logger.LevelDebug
	LogLevelInfo  = logger.LevelInfo
	LogLevelWarn  = logger.LevelWarn
	LogLevelError = logger.LevelError
)

// LogFunc is the prototype of the log function.
type LogFunc = logger.Func
