// Package store persists connection records and state-change history in an
// ordered key-value database. Range scans over big-endian-encoded keys
// drive history queries, uptime metrics, and percentile start-duration
// estimates without needing a secondary index. Big-endian encoding is
// load-bearing: it makes byte-lexicographic key order equal numeric
// timestamp order, so a bbolt cursor scan is a time scan.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

const (
	latestSchemaVersion = 0

	bucketMeta        = "meta"
	bucketConnections = "connections"
	bucketStates      = "states"

	metaVersionKey = "version"
)

// Store is an ordered, transactional key-value store for connection metadata
// and site state-change history, backed by a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the database file at path, and checks
// or stamps its schema version.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return &domain.StoreError{Op: "migrate", Err: err}
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketConnections)); err != nil {
			return &domain.StoreError{Op: "migrate", Err: err}
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketStates)); err != nil {
			return &domain.StoreError{Op: "migrate", Err: err}
		}

		raw := meta.Get([]byte(metaVersionKey))
		if raw == nil {
			return meta.Put([]byte(metaVersionKey), encodeUint64(latestSchemaVersion))
		}

		version := binary.BigEndian.Uint64(raw)
		if version != latestSchemaVersion {
			return &domain.StoreError{Op: "migrate", Err: domain.ErrUnsupportedDBVersion}
		}
		return nil
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

// stateKey is the ordered (service, timestamp_ns) composite key used in the
// states bucket. Encoding the service name first, then the nanosecond
// timestamp as a fixed-width big-endian integer, makes byte-lexicographic
// order equal to (service ASC, time ASC) order, so a bbolt cursor range scan
// over one service's key prefix comes out in timestamp order for free.
func stateKey(service string, at time.Time) []byte {
	key := make([]byte, 0, len(service)+1+8)
	key = append(key, []byte(service)...)
	key = append(key, 0x00)
	key = binary.BigEndian.AppendUint64(key, uint64(at.UnixNano()))
	return key
}

func decodeStateKey(key []byte) (service string, at time.Time) {
	sep := len(key) - 8 - 1
	return string(key[:sep]), time.Unix(0, int64(binary.BigEndian.Uint64(key[sep+1:])))
}

func servicePrefix(service string) []byte {
	prefix := make([]byte, 0, len(service)+1)
	prefix = append(prefix, []byte(service)...)
	prefix = append(prefix, 0x00)
	return prefix
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StoreError{Op: op, Err: err}
}

func marshalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: unmarshalable value: %v", err))
	}
	return b
}
