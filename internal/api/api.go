// Package api serves the read-only inspection endpoints under
// /hibernator-api/: thin JSON projections over the store and the site
// registry, with the one nontrivial piece of logic, the uptime-metrics
// walk, implemented in metrics.go.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
	"github.com/nginx-hibernator/hibernator/internal/registry"
	"github.com/nginx-hibernator/hibernator/internal/store"
)

// Store is the subset of internal/store.Store the inspection API reads.
type Store interface {
	LastState(site string) (domain.SiteState, time.Time, error)
	StateHistorySince(site string, since time.Time) ([]domain.StateChangeRecord, error)
	StateHistoryRanges(site string, before, after *time.Time, min int) ([]domain.StateRange, error)
	GetConnectionHistory(service string, before, after *uint64, min int) ([]store.ConnectionEntry, error)
	StartDurationEstimate(site string, percentile int) (time.Duration, error)
}

// Handler answers every /hibernator-api/ request. It is stateless beyond its
// two collaborators, so one Handler is shared by every dispatcher goroutine.
type Handler struct {
	sites  *registry.Sites
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Handler over an already-built site registry and store.
func New(sites *registry.Sites, storeImpl Store, logger *slog.Logger) *Handler {
	return &Handler{sites: sites, store: storeImpl, logger: logger, now: time.Now}
}

// Handle dispatches one raw request target (path + optional query string) to
// the matching endpoint, returning the complete response to write back.
// Malformed paths always answer 400 InvalidUrl.
func (h *Handler) Handle(rawPath string) httpwire.Response {
	u, err := url.Parse(rawPath)
	if err != nil {
		return httpwire.Text(400, "InvalidUrl")
	}

	switch {
	case u.Path == "/hibernator-api/services":
		return h.listServices()

	case strings.HasPrefix(u.Path, "/hibernator-api/services/"):
		rest := strings.TrimPrefix(u.Path, "/hibernator-api/services/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" {
			return httpwire.Text(400, "InvalidUrl")
		}
		entry, ok := h.sites.ByName(parts[0])
		if !ok {
			return httpwire.Text(404, fmt.Sprintf("Service '%s' not found", parts[0]))
		}
		switch parts[1] {
		case "config":
			return h.serviceConfig(entry)
		case "metrics":
			return h.serviceMetrics(entry, u.Query())
		default:
			return httpwire.Text(400, "InvalidUrl")
		}

	case u.Path == "/hibernator-api/history":
		return h.history(u.Query())

	case u.Path == "/hibernator-api/state-history":
		return h.stateHistory(u.Query())

	default:
		return httpwire.Text(400, "InvalidUrl")
	}
}

func (h *Handler) lastState(site string) (domain.SiteState, time.Time, error) {
	state, at, err := h.store.LastState(site)
	if err != nil {
		if errors.Is(err, domain.ErrNoState) {
			return domain.StateUnknown, h.now(), nil
		}
		return "", time.Time{}, err
	}
	return state, at, nil
}
