package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	EnvDebug     = "SCREENREC_DEBUG"
	EnvDebugFile = "SCREENREC_DEBUG_FILE"
)

type LoggerConfig struct {
	Level logger.Level
	// File additionally receives every log line.
	File string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// LoggerConfigFromEnv applies SCREENREC_DEBUG and SCREENREC_DEBUG_FILE on
// top of cfg.
func LoggerConfigFromEnv(cfg LoggerConfig) LoggerConfig {
	if strings.TrimSpace(os.Getenv(EnvDebug)) == "1" && cfg.Level < logger.LevelDebug {
		cfg.Level = logger.LevelDebug
	}
	if p := strings.TrimSpace(os.Getenv(EnvDebugFile)); p != "" && cfg.File == "" {
		cfg.File = p
	}
	return cfg
}

// NewLogger builds a logrus-backed logger. The returned closer releases the
// log file, if one was opened.
func NewLogger(cfg LoggerConfig) (logger.Logger, io.Closer, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	ll := xlogrus.DefaultLogrusLogger()
	if tf, ok := ll.Formatter.(*logrus.TextFormatter); ok {
		colors := isTerminal(out)
		tf.ForceColors = colors
		tf.DisableColors = !colors
		tf.FullTimestamp = true
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File, err)
		}
		out = io.MultiWriter(out, f)
		closer = f
	}
	ll.SetOutput(out)

	level := cfg.Level
	if level == logger.LevelUndefined {
		level = logger.LevelInfo
	}
	ll.SetLevel(xlogrus.LevelToLogrus(level))
	return xlogrus.New(ll).WithLevel(level), closer, nil
}

// WithLogger installs l as the process default and into ctx.
func WithLogger(ctx context.Context, l logger.Logger) context.Context {
	logger.Default = func() logger.Logger {
		return l
	}
	return logger.CtxWithLogger(ctx, l)
}

func Flush(ctx context.Context) {
	belt.Flush(ctx)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
