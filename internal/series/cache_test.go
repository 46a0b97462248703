package series

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	inner Source
	calls int
}

func (c *countingSource) Load(ctx context.Context, id string, start, end time.Time) (*Series, error) {
	c.calls++
	return c.inner.Load(ctx, id, start, end)
}

func TestCachedSource(t *testing.T) {
	counting := &countingSource{inner: NewMemorySource(mustSeries(t, "ACME", 1, 2, 3))}
	var lookups []bool
	cached := NewCachedSource(counting, time.Minute).OnLookup(func(hit bool) { lookups = append(lookups, hit) })
	ctx := context.Background()

	first, err := cached.Load(ctx, "ACME", day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	second, err := cached.Load(ctx, "acme", day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, counting.calls)
	hits, misses := cached.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, []bool{false, true}, lookups)

	cached.Invalidate()
	_, err = cached.Load(ctx, "ACME", day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}
