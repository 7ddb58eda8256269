package drawlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeSortParams(t *testing.T) {
	cases := []struct {
		name      string
		policy    SortPolicy
		capacity  int
		nodeBits  uint
		depthBits uint
	}{
		{"default small pool", SortDefault, 256, 10, 10},
		{"default exact 10 bits", SortDefault, 1024, 10, 10},
		{"default large pool", SortDefault, 4096, 12, 10},
		{"back to front", SortBackToFront, 256, 10, 14},
		{"single node", SortDefault, 1, 10, 10},
		{"default max pool narrows depth", SortDefault, 0xffff, 16, 8},
		{"back to front 2048 narrows depth", SortBackToFront, 2048, 11, 13},
		{"back to front max pool narrows depth", SortBackToFront, 0xffff, 16, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := MakeSortParams(MeshBase, tc.policy, tc.capacity)
			assert.Equal(t, tc.nodeBits, p.NodeBits)
			assert.Equal(t, uint(8), p.ShaderBits)
			assert.Equal(t, tc.depthBits, p.DepthBits)
			assert.Equal(t, uint32(1)<<tc.depthBits-1, p.MaxDistValue)
			assert.Equal(t, float32(1e6), p.MaxDistSq)
		})
	}

	t.Run("layout past 32 bits panics", func(t *testing.T) {
		assert.NotPanics(t, func() { MakeSortParams(MeshInstanced, SortBackToFront, 1<<20) })
		assert.PanicsWithError(t, ErrKeyLayoutOverflow.Error()+": 21 node + 8 shader + 4 depth bits", func() {
			MakeSortParams(MeshBase, SortDefault, 1<<21)
		})
	})
}

func TestSortParams_Key(t *testing.T) {
	t.Run("field layout", func(t *testing.T) {
		p := MakeSortParams(MeshBase, SortDefault, 256)
		p.SetDistance(0)
		assert.Equal(t, uint32(5|3<<10), p.Key(5, 3))

		p.SetDistance(1e6)
		assert.Equal(t, uint32(1023), p.Depth())
		assert.Equal(t, uint32(5|3<<10|1023<<18), p.Key(5, 3))
	})

	t.Run("default orders near to far", func(t *testing.T) {
		p := MakeSortParams(MeshBase, SortDefault, 256)
		p.SetDistance(10 * 10)
		near := p.Key(7, 2)
		p.SetDistance(500 * 500)
		far := p.Key(1, 1)
		assert.Less(t, near, far)
	})

	t.Run("back to front orders far to near", func(t *testing.T) {
		p := MakeSortParams(MeshBase, SortBackToFront, 256)
		p.SetDistance(10 * 10)
		near := p.Key(1, 1)
		p.SetDistance(500 * 500)
		far := p.Key(7, 2)
		assert.Less(t, far, near)
	})

	t.Run("depth saturates", func(t *testing.T) {
		p := MakeSortParams(MeshBase, SortBackToFront, 256)
		p.SetDistance(5e6)
		assert.Zero(t, p.Depth())
		p.SetDistance(-1)
		assert.Equal(t, p.MaxDistValue, p.Depth())
	})

	t.Run("same depth groups by shader", func(t *testing.T) {
		p := MakeSortParams(MeshBase, SortDefault, 256)
		p.SetDistance(100)
		a := p.Key(900, 1)
		b := p.Key(0, 2)
		require.Less(t, a, b)
	})
}

func TestParseSortPolicy(t *testing.T) {
	p, err := ParseSortPolicy("back_to_front")
	require.NoError(t, err)
	assert.Equal(t, SortBackToFront, p)

	p, err = ParseSortPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SortDefault, p)

	_, err = ParseSortPolicy("front_to_back")
	assert.Error(t, err)
}
