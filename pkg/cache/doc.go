/*
Package cache implements the two-tier inference response cache.

The exact tier keys responses by sha256 of the full prompt. The semantic
tier keeps an embedding per stored prompt and answers lookups whose cosine
similarity to some stored prompt meets the threshold; a semantic hit is
promoted into the exact tier so the identical prompt hits exactly from
then on.

# Layout in Redis

	exact:<sha256(prompt)>   string, response, exact TTL
	sem:index                list of entry IDs, FIFO, bounded
	sem:entry:<id>           hash {vec, response, prompt}, semantic TTL

Eviction pops the oldest index entry (and its hash) before each insert at
the bound, so the index length never exceeds CACHE_SEMANTIC_MAX_ENTRIES.
Entries whose hash expired under the index are skipped and cleaned up by
eviction eventually.

# Degradation

The cache must never fail a caller. No REDIS_URL, a bad URL, or a dead
Redis all degrade to misses; every Redis error is swallowed and logged at
debug. Without an embedder the semantic tier is inert and only exact
lookups run.

The default TrigramEmbedder hashes character trigrams into a fixed
256-dimension vector. It is deterministic across processes, so entries
written by one daemon are readable by the next.
*/
package cache
