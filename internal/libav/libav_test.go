package libav

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/stretchr/testify/assert"

	"go2tv.app/screenrec/media"
)

func TestLogLevelRoundTrip(t *testing.T) {
	for _, level := range []logger.Level{
		logger.LevelPanic,
		logger.LevelFatal,
		logger.LevelError,
		logger.LevelWarning,
		logger.LevelInfo,
		logger.LevelDebug,
		logger.LevelTrace,
	} {
		assert.Equal(t, level, LogLevelFromAstiav(LogLevelToAstiav(level)), level.String())
	}
	assert.Equal(t, astiav.LogLevelVerbose, LogLevelToAstiav(logger.LevelDebug))
}

func TestPixelFormat(t *testing.T) {
	pf, ok := pixelFormat(media.PixelFormatYUV420P)
	assert.True(t, ok)
	assert.Equal(t, astiav.PixelFormatYuv420P, pf)

	pf, ok = pixelFormat(media.PixelFormatBGRA)
	assert.True(t, ok)
	assert.Equal(t, astiav.PixelFormatBgra, pf)

	_, ok = pixelFormat(media.PixelFormatUnknown)
	assert.False(t, ok)
}
