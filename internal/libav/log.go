package libav

import (
	"context"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
)

func LogLevelToAstiav(level logger.Level) astiav.LogLevel {
	switch level {
	case logger.LevelUndefined:
		return astiav.LogLevelQuiet
	case logger.LevelPanic:
		return astiav.LogLevelPanic
	case logger.LevelFatal:
		return astiav.LogLevelFatal
	case logger.LevelError:
		return astiav.LogLevelError
	case logger.LevelWarning:
		return astiav.LogLevelWarning
	case logger.LevelInfo:
		return astiav.LogLevelInfo
	case logger.LevelDebug:
		return astiav.LogLevelVerbose
	case logger.LevelTrace:
		return astiav.LogLevelDebug
	}
	return astiav.LogLevelWarning
}

func LogLevelFromAstiav(level astiav.LogLevel) logger.Level {
	switch level {
	case astiav.LogLevelQuiet:
		return logger.LevelUndefined
	case astiav.LogLevelFatal:
		return logger.LevelFatal
	case astiav.LogLevelPanic:
		return logger.LevelPanic
	case astiav.LogLevelError:
		return logger.LevelError
	case astiav.LogLevelWarning:
		return logger.LevelWarning
	case astiav.LogLevelInfo:
		return logger.LevelInfo
	case astiav.LogLevelVerbose:
		return logger.LevelDebug
	case astiav.LogLevelDebug:
		return logger.LevelTrace
	}
	return logger.LevelWarning
}

var logMu sync.Mutex

// InstallLogger routes libav log lines into the logger of ctx. libav runs
// one level quieter than the logger.
func InstallLogger(ctx context.Context) {
	l := logger.FromCtx(ctx).WithField("module", "libav")
	level := l.Level()
	if level > logger.LevelWarning {
		level--
	}
	astiav.SetLogLevel(LogLevelToAstiav(level))
	astiav.SetLogCallback(func(c astiav.Classer, lvl astiav.LogLevel, format, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		var class string
		if c != nil {
			if cl := c.Class(); cl != nil {
				class = " - class: " + cl.String()
			}
		}
		logMu.Lock()
		defer logMu.Unlock()
		l.Logf(LogLevelFromAstiav(lvl), "%s%s", msg, class)
	})
}
