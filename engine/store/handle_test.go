package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle_Pack(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		gen  uint32
		idx  uint32
	}{
		{"default", KindDefault, 0, 0},
		{"skinned", KindSkinned, 7, 255},
		{"instanced max", KindInstanced, handleGenMask, MaxPoolCapacity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := MakeHandle(tc.kind, tc.gen, tc.idx)
			assert.Equal(t, tc.kind, h.Kind())
			assert.Equal(t, tc.gen, h.Generation())
			assert.Equal(t, tc.idx, h.Index())
			assert.True(t, h.Valid())
		})
	}

	t.Run("generation wraps at 12 bits", func(t *testing.T) {
		h := MakeHandle(KindDefault, 1<<12+3, 9)
		assert.Equal(t, uint32(3), h.Generation())
		assert.Equal(t, KindDefault, h.Kind())
	})

	t.Run("zero handle is invalid", func(t *testing.T) {
		assert.False(t, Handle(0).Valid())
		assert.Equal(t, KindInvalid, Handle(0).Kind())
	})
}
