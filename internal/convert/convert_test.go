package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVardictSkipsZeroValues(t *testing.T) {
	d := Vardict{}.
		String("handle_token", "tok").
		String("restore_token", "").
		Uint32("types", 1).
		Uint32("persist_mode", 0).
		Bool("multiple", false)

	assert.Len(t, d, 2)
	assert.Equal(t, "tok", d["handle_token"].Value())
	assert.Equal(t, uint32(1), d["types"].Value())
}

func TestInt32Pair(t *testing.T) {
	got, ok := Int32Pair([]any{int32(1920), int32(1080)})
	assert.True(t, ok)
	assert.Equal(t, [2]int32{1920, 1080}, got)

	_, ok = Int32Pair([]any{int32(1)})
	assert.False(t, ok)
	_, ok = Int32Pair([]any{"a", int32(1)})
	assert.False(t, ok)
	_, ok = Int32Pair(42)
	assert.False(t, ok)
}
