package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSeenAlerts = []byte("seen_alerts")
	bucketFeedState  = []byte("feed_state")
)

// BoltKV is the file-backed local KV: the monitor's seen-alert set and feed
// cursors when Redis is not configured. Expiries are stored as RFC3339
// values and checked on read, with lazy deletion.
type BoltKV struct {
	db *bolt.DB
}

// OpenBoltKV opens (creating if needed) the local KV file at path.
func OpenBoltKV(path string) (*BoltKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local kv: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSeenAlerts, bucketFeedState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltKV{db: db}, nil
}

// Close closes the database.
func (s *BoltKV) Close() error {
	return s.db.Close()
}

// Seen reports whether fingerprint is marked and unexpired. An expired
// entry is deleted on the spot.
func (s *BoltKV) Seen(fingerprint string) (bool, error) {
	var seen, expired bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSeenAlerts).Get([]byte(fingerprint))
		if data == nil {
			return nil
		}
		exp, err := time.Parse(time.RFC3339, string(data))
		if err != nil {
			// Unparseable entry: treat as expired.
			expired = true
			return nil
		}
		if time.Now().After(exp) {
			expired = true
			return nil
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		err = s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketSeenAlerts).Delete([]byte(fingerprint))
		})
	}
	return seen, err
}

// Mark records fingerprint with an expiry ttl from now.
func (s *BoltKV) Mark(fingerprint string, ttl time.Duration) error {
	expiry := time.Now().Add(ttl).Format(time.RFC3339)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeenAlerts).Put([]byte(fingerprint), []byte(expiry))
	})
}

// FeedCheckedAt returns the stored cursor for a feed URL.
func (s *BoltKV) FeedCheckedAt(url string) (time.Time, bool, error) {
	var t time.Time
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFeedState).Get([]byte(url))
		if data == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, string(data))
		if err != nil {
			return fmt.Errorf("corrupt feed state for %s: %w", url, err)
		}
		t, ok = parsed, true
		return nil
	})
	return t, ok, err
}

// SetFeedCheckedAt stores the cursor for a feed URL.
func (s *BoltKV) SetFeedCheckedAt(url string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedState).Put([]byte(url), []byte(t.Format(time.RFC3339)))
	})
}

// PruneSeen removes every expired seen-alert entry. Called opportunistically
// by the daemon's heartbeat; the set stays small either way.
func (s *BoltKV) PruneSeen() (int, error) {
	now := time.Now()
	var stale [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeenAlerts).ForEach(func(k, v []byte) error {
			exp, err := time.Parse(time.RFC3339, string(v))
			if err != nil || now.After(exp) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeenAlerts)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return len(stale), err
}
