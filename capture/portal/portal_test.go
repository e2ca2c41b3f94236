//go:build linux

package portal

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/xdgportal"
)

func TestMonitorsFromStreams(t *testing.T) {
	monitors := monitorsFromStreams([]xdgportal.Stream{
		{NodeID: 51, Position: [2]int32{0, 0}, Size: [2]int32{1920, 1080}, ID: "eDP-1"},
		{NodeID: 52, Position: [2]int32{1920, 0}, Size: [2]int32{800, 600}},
	})
	require.Len(t, monitors, 2)

	assert.Equal(t, capture.Monitor{Index: 0, Name: "eDP-1", Bounds: image.Rect(0, 0, 1920, 1080), NodeID: 51}, monitors[0])
	assert.Equal(t, "node-52", monitors[1].Name)
	assert.Equal(t, image.Rect(1920, 0, 2720, 600), monitors[1].Bounds)
	assert.Equal(t, 800, monitors[1].Width())
}

func TestMapErr(t *testing.T) {
	assert.ErrorIs(t, mapErr(xdgportal.ErrCancelled), capture.ErrCancelled)
	assert.ErrorIs(t, mapErr(assert.AnError), assert.AnError)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, capture.Backends(), capture.BackendPortal)
}
