package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T, mutate func(*Options)) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := Options{
		RedisURL:    "redis://" + mr.Addr(),
		Embedder:    NewTrigramEmbedder(),
		ExactTTL:    24 * time.Hour,
		SemanticTTL: 7 * 24 * time.Hour,
		Threshold:   0.92,
		MaxEntries:  2000,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// TestExactHit tests that a stored prompt is returned verbatim.
func TestExactHit(t *testing.T) {
	c, _ := testCache(t, nil)
	ctx := context.Background()

	prompt := "summarize the scan results for example.com"
	c.Store(ctx, prompt, "two critical findings on port 443")

	got, ok := c.Check(ctx, prompt)
	require.True(t, ok)
	assert.Equal(t, "two critical findings on port 443", got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.HitsExact)
	assert.Zero(t, stats.HitsSemantic)
	assert.Zero(t, stats.Misses)
}

// TestMiss tests the miss path and counter.
func TestMiss(t *testing.T) {
	c, _ := testCache(t, nil)

	_, ok := c.Check(context.Background(), "never stored")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

// TestSemanticHitAndPromotion tests that a near-identical prompt hits the
// semantic tier and is then promoted into the exact tier.
func TestSemanticHitAndPromotion(t *testing.T) {
	c, _ := testCache(t, nil)
	ctx := context.Background()

	stored := "please scan the host example.com for open ports and running services"
	asked := "please scan the host example.com for open ports and running service"
	c.Store(ctx, stored, "nmap found 3 open ports")

	got, ok := c.Check(ctx, asked)
	require.True(t, ok, "near-identical prompt should hit semantically")
	assert.Equal(t, "nmap found 3 open ports", got)
	assert.Equal(t, uint64(1), c.Stats().HitsSemantic)

	// The same prompt again must now hit the exact tier.
	got, ok = c.Check(ctx, asked)
	require.True(t, ok)
	assert.Equal(t, "nmap found 3 open ports", got)
	assert.Equal(t, uint64(1), c.Stats().HitsExact)
}

// TestSemanticBelowThreshold tests that unrelated prompts miss.
func TestSemanticBelowThreshold(t *testing.T) {
	c, _ := testCache(t, nil)
	ctx := context.Background()

	c.Store(ctx, "please scan the host example.com for open ports", "ports answer")

	_, ok := c.Check(ctx, "write a haiku about mountain weather in spring")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

// TestFIFOEviction tests the semantic tier never exceeds its bound and
// evicts oldest-first.
func TestFIFOEviction(t *testing.T) {
	c, mr := testCache(t, func(o *Options) { o.MaxEntries = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Store(ctx, fmt.Sprintf("unique prompt number %d with some padding text", i), fmt.Sprintf("response %d", i))
	}

	n, err := c.rdb.LLen(ctx, indexKey).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(3))

	// Oldest entries are gone from the keyspace too.
	keys := mr.Keys()
	entries := 0
	for _, k := range keys {
		if len(k) > len(entryPrefix) && k[:len(entryPrefix)] == entryPrefix {
			entries++
		}
	}
	assert.LessOrEqual(t, entries, 3)
}

// TestNoRedisConfigured tests the disabled cache is a safe no-op.
func TestNoRedisConfigured(t *testing.T) {
	c := New(Options{
		Embedder:   NewTrigramEmbedder(),
		ExactTTL:   time.Hour,
		Threshold:  0.92,
		MaxEntries: 100,
	})
	defer c.Close()
	ctx := context.Background()

	c.Store(ctx, "prompt", "response")
	_, ok := c.Check(ctx, "prompt")
	assert.False(t, ok)

	c.Flush(ctx)

	stats := c.Stats()
	assert.False(t, stats.RedisAvailable)
	assert.True(t, stats.EmbedderAvailable)
}

// TestRedisDownDegrades tests that a dead Redis turns lookups into misses
// without errors or panics.
func TestRedisDownDegrades(t *testing.T) {
	c, mr := testCache(t, nil)
	ctx := context.Background()

	c.Store(ctx, "prompt", "response")
	mr.Close()

	_, ok := c.Check(ctx, "prompt")
	assert.False(t, ok)
	c.Store(ctx, "another", "response") // must not panic
	c.Flush(ctx)
}

// TestNilEmbedderDisablesSemantic tests the semantic tier is inert without
// an embedder while the exact tier keeps working.
func TestNilEmbedderDisablesSemantic(t *testing.T) {
	c, _ := testCache(t, func(o *Options) { o.Embedder = nil })
	ctx := context.Background()

	stored := "please scan the host example.com for open ports and running services"
	c.Store(ctx, stored, "answer")

	// Exact works.
	got, ok := c.Check(ctx, stored)
	require.True(t, ok)
	assert.Equal(t, "answer", got)

	// Near-identical misses, nothing was written to the semantic tier.
	_, ok = c.Check(ctx, stored+"!")
	assert.False(t, ok)

	n, err := c.rdb.LLen(ctx, indexKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestExactTTLExpiry tests exact entries expire.
func TestExactTTLExpiry(t *testing.T) {
	c, mr := testCache(t, func(o *Options) {
		o.Embedder = nil
		o.ExactTTL = time.Second
	})
	ctx := context.Background()

	c.Store(ctx, "prompt", "response")
	mr.FastForward(2 * time.Second)

	_, ok := c.Check(ctx, "prompt")
	assert.False(t, ok)
}

// TestFlush tests both tiers are emptied.
func TestFlush(t *testing.T) {
	c, mr := testCache(t, nil)
	ctx := context.Background()

	c.Store(ctx, "first prompt with enough text to embed", "r1")
	c.Store(ctx, "second prompt with enough text to embed", "r2")
	c.Flush(ctx)

	_, ok := c.Check(ctx, "first prompt with enough text to embed")
	assert.False(t, ok)
	assert.Empty(t, mr.Keys())
}

// TestStatsHitRate tests the rate computation.
func TestStatsHitRate(t *testing.T) {
	c, _ := testCache(t, func(o *Options) { o.Embedder = nil })
	ctx := context.Background()

	c.Store(ctx, "p", "r")
	c.Check(ctx, "p")       // hit
	c.Check(ctx, "q")       // miss
	c.Check(ctx, "r")       // miss
	c.Check(ctx, "p")       // hit

	stats := c.Stats()
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}
