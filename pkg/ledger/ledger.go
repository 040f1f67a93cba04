package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hexclaw/hexclaw/pkg/log"
)

// Entry is one model invocation (or cache hit) to be recorded.
type Entry struct {
	Provider  string
	Model     string
	Tier      string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64 // estimated from the rate table when zero
	CacheHit  bool
}

// ModelUsage is the per-model rollup row of Summary.
type ModelUsage struct {
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Calls     int64   `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	CacheHits int64   `json:"cache_hits"`
}

// TierUsage is the per-tier rollup row of SummaryByTier.
type TierUsage struct {
	Tier      string  `json:"tier"`
	Calls     int64   `json:"calls"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	Calls     int64        `json:"calls"`
	TokensIn  int64        `json:"tokens_in"`
	TokensOut int64        `json:"tokens_out"`
	CostUSD   float64      `json:"cost_usd"`
	CacheHits int64        `json:"cache_hits"`
	Models    []ModelUsage `json:"models"`
}

// Ledger is an append-only token usage log backed by SQLite.
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS token_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	tier TEXT NOT NULL DEFAULT '',
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`

// Open opens (creating if necessary) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token ledger: %w", err)
	}
	// Serialize writers; sqlite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init token ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends one entry. Accounting must never break an inference call,
// so failures are logged and swallowed.
func (l *Ledger) Record(e Entry) {
	if e.CostUSD == 0 {
		e.CostUSD = EstimateCost(e.Model, e.TokensIn, e.TokensOut)
	}
	cacheHit := 0
	if e.CacheHit {
		cacheHit = 1
	}

	_, err := l.db.Exec(
		`INSERT INTO token_log (provider, model, tier, tokens_in, tokens_out, cost_usd, cache_hit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Provider, e.Model, e.Tier, e.TokensIn, e.TokensOut, e.CostUSD, cacheHit,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		logger := log.WithComponent("ledger")
		logger.Warn().Err(err).
			Str("model", e.Model).
			Msg("Failed to record token usage")
	}
}

// Summary returns totals plus a per-model rollup, computed entirely in SQL.
func (l *Ledger) Summary() (Summary, error) {
	var s Summary
	err := l.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(tokens_in), 0),
		        COALESCE(SUM(tokens_out), 0),
		        COALESCE(SUM(cost_usd), 0),
		        COALESCE(SUM(cache_hit), 0)
		 FROM token_log`,
	).Scan(&s.Calls, &s.TokensIn, &s.TokensOut, &s.CostUSD, &s.CacheHits)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger summary: %w", err)
	}

	rows, err := l.db.Query(
		`SELECT provider, model, COUNT(*),
		        COALESCE(SUM(tokens_in), 0),
		        COALESCE(SUM(tokens_out), 0),
		        COALESCE(SUM(cost_usd), 0),
		        COALESCE(SUM(cache_hit), 0)
		 FROM token_log
		 GROUP BY provider, model
		 ORDER BY SUM(cost_usd) DESC, COUNT(*) DESC`,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger summary by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Provider, &m.Model, &m.Calls, &m.TokensIn, &m.TokensOut, &m.CostUSD, &m.CacheHits); err != nil {
			return Summary{}, fmt.Errorf("scan model usage: %w", err)
		}
		s.Models = append(s.Models, m)
	}
	return s, rows.Err()
}

// SummaryByTier returns a per-tier rollup for the stats report. Cache hits
// are excluded; they carry no tier.
func (l *Ledger) SummaryByTier() ([]TierUsage, error) {
	rows, err := l.db.Query(
		`SELECT tier, COUNT(*),
		        COALESCE(SUM(tokens_in), 0),
		        COALESCE(SUM(tokens_out), 0),
		        COALESCE(SUM(cost_usd), 0)
		 FROM token_log
		 WHERE cache_hit = 0 AND tier != ''
		 GROUP BY tier
		 ORDER BY SUM(cost_usd) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger summary by tier: %w", err)
	}
	defer rows.Close()

	var out []TierUsage
	for rows.Next() {
		var t TierUsage
		if err := rows.Scan(&t.Tier, &t.Calls, &t.TokensIn, &t.TokensOut, &t.CostUSD); err != nil {
			return nil, fmt.Errorf("scan tier usage: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
