package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSizer struct{ calls []uint64 }

func (c *countingSizer) Size(n uint64, p float64) (uint64, uint8) {
	c.calls = append(c.calls, n)
	return 4096, 3
}

func TestFactory_UsesSizer(t *testing.T) {
	s := &countingSizer{}
	bf := factory{sizer: s}.New(10, 0.01)
	require.NotNil(t, bf)
	assert.Equal(t, []uint64{10}, s.calls)

	bf.Add([]byte("example.com"))
	assert.True(t, bf.MightContain([]byte("example.com")))
}

func TestFactory_EmptyRuleSet(t *testing.T) {
	bf := NewFactory().New(0, 0)
	assert.False(t, bf.MightContain([]byte("example.com")))
	bf.Add([]byte("example.com"))
	assert.True(t, bf.MightContain([]byte("example.com")))
}
