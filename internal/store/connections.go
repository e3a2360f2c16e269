package store

import (
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

// PutConnection appends rec to the list stored at key atSec, inside a
// single read-modify-write transaction so concurrent writers in the same
// second never drop each other's records.
func (s *Store) PutConnection(atSec uint64, rec domain.ConnectionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketConnections))
		key := encodeUint64(atSec)

		var list []domain.ConnectionRecord
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &list); err != nil {
				return storeErr("put_connection", err)
			}
		}
		list = append(list, rec)

		return storeErr("put_connection", b.Put(key, marshalJSON(list)))
	})
}

// ConnectionEntry pairs a stored record with the second it was recorded at.
type ConnectionEntry struct {
	At     uint64
	Record domain.ConnectionRecord
}

// GetConnectionHistory returns up to min entries, filtered to service when
// non-empty. Exactly one of before/after must be set: before walks
// backwards (newest-first) from that timestamp; after walks forwards from
// that timestamp but the result is still returned newest-first.
func (s *Store) GetConnectionHistory(service string, before, after *uint64, min int) ([]ConnectionEntry, error) {
	if (before == nil) == (after == nil) {
		return nil, storeErr("get_connection_history", domain.ErrInvalidQuery)
	}

	var results []ConnectionEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketConnections))
		c := b.Cursor()

		appendMatching := func(at uint64, raw []byte) (bool, error) {
			var list []domain.ConnectionRecord
			if err := json.Unmarshal(raw, &list); err != nil {
				return false, err
			}
			for _, rec := range list {
				if service != "" && (rec.ServiceName == nil || *rec.ServiceName != service) {
					continue
				}
				results = append(results, ConnectionEntry{At: at, Record: rec})
				if len(results) >= min {
					return true, nil
				}
			}
			return len(results) >= min, nil
		}

		if before != nil {
			boundary := encodeUint64(*before)
			k, v := c.Seek(boundary)
			if k == nil {
				// boundary is past every key; start from the last one.
				k, v = c.Last()
			} else if string(k) >= string(boundary) {
				// Seek lands at-or-after boundary; step back once so the
				// scan starts strictly below before.
				k, v = c.Prev()
			}
			for ; k != nil; k, v = c.Prev() {
				done, err := appendMatching(decodeUint64(k), v)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
			return nil
		}

		boundary := encodeUint64(*after + 1)
		for k, v := c.Seek(boundary); k != nil; k, v = c.Next() {
			done, err := appendMatching(decodeUint64(k), v)
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		// Forward scans are collected oldest-first; reverse for the
		// newest-first contract shared with the before path.
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("get_connection_history", err)
	}

	return results, nil
}
