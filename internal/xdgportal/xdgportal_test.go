package xdgportal

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreams(t *testing.T) {
	raw := []any{
		[]any{
			uint32(57),
			map[string]dbus.Variant{
				"position":    dbus.MakeVariant([]any{int32(1920), int32(0)}),
				"size":        dbus.MakeVariant([]any{int32(2560), int32(1440)}),
				"source_type": dbus.MakeVariant(SourceTypeMonitor),
				"id":          dbus.MakeVariant("DP-1"),
			},
		},
		[]any{uint32(3)},
		"garbage",
	}

	streams := parseStreams(raw)
	require.Len(t, streams, 1)
	assert.Equal(t, Stream{
		NodeID:     57,
		Position:   [2]int32{1920, 0},
		Size:       [2]int32{2560, 1440},
		SourceType: SourceTypeMonitor,
		ID:         "DP-1",
	}, streams[0])

	assert.Nil(t, parseStreams(42))
}

func TestParseStreamsTyped(t *testing.T) {
	raw := [][]any{
		{uint32(9), map[string]dbus.Variant{"size": dbus.MakeVariant([]any{int32(800), int32(600)})}},
	}
	streams := parseStreams(raw)
	require.Len(t, streams, 1)
	assert.Equal(t, uint32(9), streams[0].NodeID)
	assert.Equal(t, [2]int32{800, 600}, streams[0].Size)
}
