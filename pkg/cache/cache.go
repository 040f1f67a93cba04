package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
)

const (
	exactPrefix = "exact:"
	entryPrefix = "sem:entry:"
	indexKey    = "sem:index"
)

// Options configures a Cache.
type Options struct {
	RedisURL    string
	Embedder    Embedder // nil leaves the semantic tier inert
	ExactTTL    time.Duration
	SemanticTTL time.Duration
	Threshold   float64 // minimum cosine similarity for a semantic hit
	MaxEntries  int     // semantic tier FIFO bound
}

// Stats is a point-in-time snapshot of per-process hit counters.
type Stats struct {
	HitsExact         uint64  `json:"hits_exact"`
	HitsSemantic      uint64  `json:"hits_semantic"`
	Misses            uint64  `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	RedisAvailable    bool    `json:"redis_available"`
	EmbedderAvailable bool    `json:"embedder_available"`
}

// Cache is the two-tier inference cache. All methods tolerate an absent or
// unreachable Redis by degrading to misses; nothing here may fail a caller.
type Cache struct {
	rdb         *redis.Client // nil when REDIS_URL is not configured
	embedder    Embedder
	exactTTL    time.Duration
	semanticTTL time.Duration
	threshold   float64
	maxEntries  int

	hitsExact    atomic.Uint64
	hitsSemantic atomic.Uint64
	misses       atomic.Uint64

	logger zerolog.Logger
}

// New builds a cache from opts. A missing RedisURL or a failed parse yields
// a no-op cache; an unreachable Redis keeps the client and degrades per-call.
func New(opts Options) *Cache {
	c := &Cache{
		embedder:    opts.Embedder,
		exactTTL:    opts.ExactTTL,
		semanticTTL: opts.SemanticTTL,
		threshold:   opts.Threshold,
		maxEntries:  opts.MaxEntries,
		logger:      log.WithComponent("cache"),
	}

	if opts.RedisURL == "" {
		c.logger.Info().Msg("No REDIS_URL configured, response cache disabled")
		return c
	}

	ropts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Invalid REDIS_URL, response cache disabled")
		return c
	}
	c.rdb = redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unreachable, cache degrades to misses")
	}
	return c
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Check looks the prompt up in both tiers. A semantic hit is promoted into
// the exact tier so the identical prompt hits exactly next time.
func (c *Cache) Check(ctx context.Context, prompt string) (string, bool) {
	if c.rdb == nil {
		metrics.CacheRequests.WithLabelValues("bypass").Inc()
		return "", false
	}

	val, err := c.rdb.Get(ctx, exactKey(prompt)).Result()
	if err == nil {
		c.hitsExact.Add(1)
		metrics.CacheRequests.WithLabelValues("exact_hit").Inc()
		return val, true
	}
	if err != redis.Nil {
		c.logger.Debug().Err(err).Msg("Exact cache lookup failed")
	}

	if c.embedder != nil {
		if resp, ok := c.semanticLookup(ctx, prompt); ok {
			c.hitsSemantic.Add(1)
			metrics.CacheRequests.WithLabelValues("semantic_hit").Inc()
			return resp, true
		}
	}

	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	return "", false
}

func (c *Cache) semanticLookup(ctx context.Context, prompt string) (string, bool) {
	qvec := c.embedder.Embed(prompt)

	ids, err := c.rdb.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		c.logger.Debug().Err(err).Msg("Semantic index read failed")
		return "", false
	}

	best := -1.0
	bestResp := ""
	for _, id := range ids {
		fields, err := c.rdb.HGetAll(ctx, entryPrefix+id).Result()
		if err != nil || len(fields) == 0 {
			// Entry expired out from under the index; skip.
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(fields["vec"]), &vec); err != nil {
			continue
		}
		if score := Cosine(qvec, vec); score > best {
			best = score
			bestResp = fields["response"]
		}
	}

	if best < c.threshold || bestResp == "" {
		return "", false
	}

	// Promote so the identical prompt becomes an exact hit.
	if err := c.rdb.Set(ctx, exactKey(prompt), bestResp, c.exactTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Semantic promotion failed")
	}
	return bestResp, true
}

// Store writes the response into the exact tier and, when an embedder is
// present, into the semantic tier with FIFO eviction at the entry bound.
func (c *Cache) Store(ctx context.Context, prompt, response string) {
	if c.rdb == nil {
		return
	}

	if err := c.rdb.Set(ctx, exactKey(prompt), response, c.exactTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Exact cache store failed")
	}

	if c.embedder == nil {
		return
	}

	vec := c.embedder.Embed(prompt)
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return
	}

	id := entryID(prompt)
	key := entryPrefix + id
	if err := c.rdb.HSet(ctx, key,
		"vec", string(vecJSON),
		"response", response,
		"prompt", truncate(prompt, 200),
	).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Semantic cache store failed")
		return
	}
	if err := c.rdb.Expire(ctx, key, c.semanticTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Semantic entry expire failed")
	}

	// Evict oldest entries before inserting so the index never exceeds
	// the bound.
	if n, err := c.rdb.LLen(ctx, indexKey).Result(); err == nil {
		for n >= int64(c.maxEntries) && n > 0 {
			old, err := c.rdb.LPop(ctx, indexKey).Result()
			if err != nil {
				break
			}
			c.rdb.Del(ctx, entryPrefix+old)
			n--
		}
	}
	if err := c.rdb.RPush(ctx, indexKey, id).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Semantic index push failed")
	}
}

// Flush deletes both tiers. Counters keep their values; they are
// per-process, not per-keyspace.
func (c *Cache) Flush(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	c.scanDel(ctx, exactPrefix+"*")
	c.scanDel(ctx, entryPrefix+"*")
	if err := c.rdb.Del(ctx, indexKey).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("Semantic index delete failed")
	}
}

func (c *Cache) scanDel(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.logger.Debug().Err(err).Str("pattern", pattern).Msg("Cache scan failed")
			return
		}
		if len(keys) > 0 {
			c.rdb.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Stats snapshots the per-process counters.
func (c *Cache) Stats() Stats {
	he := c.hitsExact.Load()
	hs := c.hitsSemantic.Load()
	m := c.misses.Load()

	s := Stats{
		HitsExact:         he,
		HitsSemantic:      hs,
		Misses:            m,
		RedisAvailable:    c.rdb != nil,
		EmbedderAvailable: c.embedder != nil,
	}
	if total := he + hs + m; total > 0 {
		s.HitRate = float64(he+hs) / float64(total)
	}
	return s
}

func exactKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return exactPrefix + hex.EncodeToString(sum[:])
}

// entryID must differ between stores of the same prompt, so the hash
// includes the current time.
func entryID(prompt string) string {
	sum := sha256.Sum256([]byte(prompt + strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:16]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
