package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvFPS             = "SCREENREC_FPS"
	EnvDurationSeconds = "SCREENREC_DURATION_SECONDS"
	EnvHWAccel         = "SCREENREC_HWACCEL"
	EnvMonitor         = "SCREENREC_MONITOR"
)

func BoolEnv(name string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return defaultValue
	}

	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return defaultValue
	}
}

func IntEnvClamped(name string, defaultValue, minValue, maxValue int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}

	if minValue <= maxValue {
		if n < minValue {
			n = minValue
		}
		if n > maxValue {
			n = maxValue
		}
	}

	return n
}

// ApplyEnv overrides c with the SCREENREC_* environment variables that are
// set. Unparsable values are ignored.
func (c Config) ApplyEnv() Config {
	c.FPS = IntEnvClamped(EnvFPS, c.FPS, 1, maxFPS)
	if strings.TrimSpace(os.Getenv(EnvDurationSeconds)) != "" {
		secs := IntEnvClamped(EnvDurationSeconds, int(c.Duration/time.Second), 1, 24*60*60)
		c.Duration = time.Duration(secs) * time.Second
	}
	c.Monitor = IntEnvClamped(EnvMonitor, c.Monitor, 0, 64)
	c.Encoder.HWAccel = BoolEnv(EnvHWAccel, c.Encoder.HWAccel)
	return c
}
