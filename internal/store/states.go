package store

import (
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

// clock is overridden in tests so state transitions land at deterministic
// timestamps instead of time.Now().
var clock = time.Now

// AppendState inserts states[(site, now_ns())] = state, unconditionally.
func (s *Store) AppendState(site string, state domain.SiteState) error {
	return s.appendStateAt(site, state, clock())
}

func (s *Store) appendStateAt(site string, state domain.SiteState, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		return storeErr("append_state", b.Put(stateKey(site, at), []byte(state)))
	})
}

// TryAppendState reads the highest (site, *) row; if its state is one of
// excluded, it appends nothing and returns false. Otherwise it appends state
// and returns true. Both the read and the write happen inside one
// transaction, so this is the store's only mutual-exclusion primitive: two
// concurrent callers for the same site can never both observe "not
// excluded" and both append.
func (s *Store) TryAppendState(site string, state domain.SiteState, excluded []domain.SiteState) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		c := b.Cursor()

		prefix := servicePrefix(site)
		_, lastVal := seekLastWithPrefix(c, prefix)

		if lastVal != nil {
			current := domain.SiteState(lastVal)
			for _, bad := range excluded {
				if current == bad {
					return nil
				}
			}
		}

		ok = true
		return storeErr("try_append_state", b.Put(stateKey(site, clock()), []byte(state)))
	})
	return ok, err
}

// LastState returns the most recent state together with the time the
// current uninterrupted run of that state began: the cursor walks backwards
// past every row recording the same value, so re-asserted writes don't
// reset the clock idle-shutdown decisions are measured against. Returns
// domain.ErrNoState if the site has no history.
func (s *Store) LastState(site string) (domain.SiteState, time.Time, error) {
	var state domain.SiteState
	var at time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		c := b.Cursor()
		prefix := servicePrefix(site)

		key, val := seekLastWithPrefix(c, prefix)
		if key == nil {
			return storeErr("last_state", domain.ErrNoState)
		}
		_, at = decodeStateKey(key)
		state = domain.SiteState(val)

		for k, v := c.Prev(); k != nil && hasPrefix(k, prefix); k, v = c.Prev() {
			if domain.SiteState(v) != state {
				break
			}
			_, at = decodeStateKey(k)
		}
		return nil
	})
	return state, at, err
}

// seekLastWithPrefix positions c at the last key/value pair whose key has
// the given prefix, or returns nil, nil if there is none. bbolt cursors have
// no native prefix-bounded reverse seek, so this seeks to the first key past
// the prefix range and steps back once.
func seekLastWithPrefix(c *bbolt.Cursor, prefix []byte) (key, val []byte) {
	upper := append(append([]byte{}, prefix...), 0xff)
	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !hasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// StateHistorySince returns every (site, *) row with timestamp >= since,
// in chronological order. If the row immediately preceding since exists, it is
// included with its timestamp clamped to since, so the caller sees a
// closed-interval series that begins exactly at since (needed so metrics
// walks don't miss the state the site was actually in at the window start).
func (s *Store) StateHistorySince(site string, since time.Time) ([]domain.StateChangeRecord, error) {
	var rows []domain.StateChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		c := b.Cursor()
		prefix := servicePrefix(site)

		var precedingState domain.SiteState
		havePreceding := false

		// Walk backwards from the site's newest row until the first row
		// older than since, which becomes the clamped "preceding" row.
		k, v := seekLastWithPrefix(c, prefix)
		for k != nil && hasPrefix(k, prefix) {
			_, at := decodeStateKey(k)
			if at.Before(since) {
				precedingState = domain.SiteState(v)
				havePreceding = true
				break
			}
			rows = append(rows, domain.StateChangeRecord{SiteName: site, At: at, State: domain.SiteState(v)})
			k, v = c.Prev()
		}

		if havePreceding {
			rows = append(rows, domain.StateChangeRecord{SiteName: site, At: since, State: precedingState})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("state_history_since", err)
	}

	reverse(rows)
	return rows, nil
}

func reverse(rows []domain.StateChangeRecord) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// StateHistoryRanges collapses consecutive same-state rows for site (or
// every site when site is "") into (start, end, state) ranges, honoring the
// same before/after contract as GetConnectionHistory. min counts the
// deduplicated ranges, not the underlying rows, so a site that sat in one
// state across many re-asserted writes still yields min distinct ranges.
// Each service's final range ends at now.
func (s *Store) StateHistoryRanges(site string, before, after *time.Time, min int) ([]domain.StateRange, error) {
	if (before == nil) == (after == nil) {
		return nil, storeErr("state_history_ranges", domain.ErrInvalidQuery)
	}

	rows, err := s.rawStateRows(site, before, after, min)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].At.Before(rows[j].At) })

	var ranges []domain.StateRange
	lastBySite := make(map[string]int)
	for _, row := range rows {
		i, seen := lastBySite[row.SiteName]
		if seen && ranges[i].State == row.State {
			continue
		}
		if seen {
			ranges[i].End = row.At
		}
		ranges = append(ranges, domain.StateRange{Start: row.At, Service: row.SiteName, State: row.State, End: row.At})
		lastBySite[row.SiteName] = len(ranges) - 1
	}
	now := clock()
	for _, i := range lastBySite {
		ranges[i].End = now
	}
	return ranges, nil
}

// rawStateRows returns the matching (site, timestamp, state) rows,
// newest-first, honoring before XOR after. min bounds the number of
// deduplicated (service, state) runs collected, counted in scan order.
//
// With site set, the composite-key boundary narrows the scan; with site ""
// rows from every service share the bucket interleaved by name, so the scan
// walks the whole keyspace and filters per row on the decoded timestamp
// instead.
func (s *Store) rawStateRows(site string, before, after *time.Time, min int) ([]domain.StateChangeRecord, error) {
	var rows []domain.StateChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		c := b.Cursor()

		matches := func(k []byte) bool {
			if site == "" {
				return true
			}
			return hasPrefix(k, servicePrefix(site))
		}

		runs := 0
		appendRow := func(svc string, at time.Time, v []byte) bool {
			row := domain.StateChangeRecord{SiteName: svc, At: at, State: domain.SiteState(v)}
			if n := len(rows); n == 0 || rows[n-1].SiteName != row.SiteName || rows[n-1].State != row.State {
				runs++
			}
			rows = append(rows, row)
			return runs >= min
		}

		if before != nil {
			var k, v []byte
			if site != "" {
				boundary := stateKey(site, *before)
				if k, v = c.Seek(boundary); k == nil {
					k, v = c.Last()
				} else {
					k, v = c.Prev()
				}
			} else {
				k, v = c.Last()
			}
			for ; k != nil; k, v = c.Prev() {
				if !matches(k) {
					if site != "" {
						// Walked backwards past the site's contiguous
						// key range; nothing older can match.
						break
					}
					continue
				}
				svc, at := decodeStateKey(k)
				if !at.Before(*before) {
					continue
				}
				if appendRow(svc, at, v) {
					return nil
				}
			}
			return nil
		}

		boundary := stateKey(site, *after)
		for k, v := c.Seek(boundary); k != nil; k, v = c.Next() {
			if !matches(k) {
				if site != "" {
					break
				}
				continue
			}
			svc, at := decodeStateKey(k)
			if !at.After(*after) {
				continue
			}
			if appendRow(svc, at, v) {
				break
			}
		}
		reverse(rows)
		return nil
	})
	return rows, err
}

// StartDurationEstimate iterates (site, *) backwards, sampling a start
// duration whenever it sees an Up row followed, scanning backward, by a
// Starting row (i.e. a Starting immediately before the Up that finished the
// start). Samples are sorted ascending before indexing, so the returned
// value is the percentile-th smallest sample rather than the nth sample in
// reverse-insertion order.
func (s *Store) StartDurationEstimate(site string, percentile int) (time.Duration, error) {
	var samples []time.Duration

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketStates))
		c := b.Cursor()
		prefix := servicePrefix(site)

		var lastUp time.Time
		haveUp := false

		k, v := seekLastWithPrefix(c, prefix)
		for k != nil && hasPrefix(k, prefix) {
			_, at := decodeStateKey(k)
			state := domain.SiteState(v)

			switch state {
			case domain.StateUp:
				lastUp = at
				haveUp = true
			case domain.StateStarting:
				if haveUp {
					samples = append(samples, lastUp.Sub(at))
					haveUp = false
				}
			default:
				haveUp = false
			}

			k, v = c.Prev()
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("start_duration_estimate", err)
	}

	if len(samples) == 0 {
		return 0, storeErr("start_duration_estimate", domain.ErrNoData)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples) * percentile) / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx], nil
}
