/*
Package storage provides the small persistent KV surfaces that back the
threat monitor: a seen-alert deduplication set and per-feed poll cursors.

Three SeenStore implementations exist, tried in order of preference:

  - RedisSeen: Redis with native key expiry (shared across daemons)
  - BoltKV: a local bbolt file with RFC3339 expiries, lazy-deleted
  - MemorySeen: in-process map, lost on restart

BoltKV also implements FeedStateStore, keeping the last successful poll
time per feed URL so a restarted daemon does not re-alert on old entries.
*/
package storage
