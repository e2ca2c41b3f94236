//go:build linux

package pipewire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineDescription(t *testing.T) {
	desc := pipelineDescription(7, 42, 1920, 1080)
	assert.Contains(t, desc, "pipewiresrc fd=7 path=42")
	assert.Contains(t, desc, "video/x-raw,format=BGRA,width=1920,height=1080")
	assert.Contains(t, desc, "appsink name=sink")

	desc = pipelineDescription(3, 1, 0, 0)
	assert.Contains(t, desc, "video/x-raw,format=BGRA ! appsink")
}
