// Package ledger keeps an append-only log of model token usage in SQLite.
//
// Every inference call and every cache hit becomes one row in token_log.
// Record never returns an error: accounting failures are logged and
// swallowed so a broken ledger can never break an inference call. Cost is
// taken from the adapter when reported, otherwise estimated from a static
// substring-keyed rate table (longest match wins, unknown models are free).
//
// Summary and SummaryByTier compute their rollups entirely in SQL; nothing
// is cached in process, so the numbers survive restarts.
package ledger
