package api

import (
	"errors"
	"net/url"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
)

const defaultMinResults = 10

type connectionEntryJSON struct {
	At     uint64                  `json:"at"`
	Record domain.ConnectionRecord `json:"record"`
}

// history answers GET /hibernator-api/history?service=&before=|after=&minResults=.
func (h *Handler) history(q url.Values) httpwire.Response {
	before, ok := queryUint64(q, "before")
	if !ok {
		return httpwire.Text(400, "InvalidUrl")
	}
	after, ok := queryUint64(q, "after")
	if !ok {
		return httpwire.Text(400, "InvalidUrl")
	}
	if (before == nil) == (after == nil) {
		return httpwire.Text(400, "InvalidUrl")
	}

	min := queryIntDefault(q, "minResults", defaultMinResults)

	entries, err := h.store.GetConnectionHistory(q.Get("service"), before, after, min)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return httpwire.Text(400, "InvalidUrl")
		}
		return httpwire.Text(500, err.Error())
	}

	out := make([]connectionEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, connectionEntryJSON{At: e.At, Record: e.Record})
	}
	return jsonResponse(out)
}

// stateHistory answers GET /hibernator-api/state-history?service=&before=|after=&minResults=.
func (h *Handler) stateHistory(q url.Values) httpwire.Response {
	beforeSec, ok := queryUint64(q, "before")
	if !ok {
		return httpwire.Text(400, "InvalidUrl")
	}
	afterSec, ok := queryUint64(q, "after")
	if !ok {
		return httpwire.Text(400, "InvalidUrl")
	}
	if (beforeSec == nil) == (afterSec == nil) {
		return httpwire.Text(400, "InvalidUrl")
	}

	var before, after *time.Time
	if beforeSec != nil {
		t := time.Unix(int64(*beforeSec), 0)
		before = &t
	}
	if afterSec != nil {
		t := time.Unix(int64(*afterSec), 0)
		after = &t
	}

	min := queryIntDefault(q, "minResults", defaultMinResults)

	ranges, err := h.store.StateHistoryRanges(q.Get("service"), before, after, min)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return httpwire.Text(400, "InvalidUrl")
		}
		return httpwire.Text(500, err.Error())
	}
	if ranges == nil {
		ranges = []domain.StateRange{}
	}
	return jsonResponse(ranges)
}
