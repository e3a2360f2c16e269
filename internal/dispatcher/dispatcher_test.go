package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/config"
	"github.com/nginx-hibernator/hibernator/internal/controller"
	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
	"github.com/nginx-hibernator/hibernator/internal/registry"
)

type fakeStore struct {
	mu          sync.Mutex
	rows        map[string][]domain.StateChangeRecord
	connections []domain.ConnectionRecord
	estimate    time.Duration
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string][]domain.StateChangeRecord)} }

func (s *fakeStore) AppendState(site string, state domain.SiteState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[site] = append(s.rows[site], domain.StateChangeRecord{SiteName: site, At: time.Now(), State: state})
	return nil
}

func (s *fakeStore) TryAppendState(site string, state domain.SiteState, excluded []domain.SiteState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[site]
	if len(rows) > 0 {
		last := rows[len(rows)-1].State
		for _, bad := range excluded {
			if last == bad {
				return false, nil
			}
		}
	}
	s.rows[site] = append(rows, domain.StateChangeRecord{SiteName: site, At: time.Now(), State: state})
	return true, nil
}

func (s *fakeStore) LastState(site string) (domain.SiteState, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[site]
	if len(rows) == 0 {
		return domain.StateUnknown, time.Time{}, domain.ErrNoState
	}
	last := rows[len(rows)-1]
	return last.State, last.At, nil
}

func (s *fakeStore) StartDurationEstimate(site string, percentile int) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estimate == 0 {
		return 0, domain.ErrNoData
	}
	return s.estimate, nil
}

func (s *fakeStore) PutConnection(atSec uint64, rec domain.ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, rec)
	return nil
}

func (s *fakeStore) recordedResults() []domain.ConnectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionResult, 0, len(s.connections))
	for _, rec := range s.connections {
		out = append(out, rec.Result)
	}
	return out
}

type fakeRunner struct{}

func (fakeRunner) Start(ctx context.Context, service string) error { return nil }
func (fakeRunner) Stop(ctx context.Context, service string) error  { return nil }

type fakeReloader struct{}

func (fakeReloader) SwapSymlink(ctx context.Context, target, link string) error { return nil }

type fakeProbe struct{}

func (fakeProbe) IsHealthy(ctx context.Context, port uint16) bool { return false }

func newTestEntry(t *testing.T, name string, etaPercentile int) (*registry.Entry, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	cfg := config.SiteConfig{Name: name, Hosts: []string{name + ".example.com"}, EtaPercentile: etaPercentile}
	ctrl, err := controller.New(cfg, st, fakeRunner{}, fakeReloader{}, fakeProbe{}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	return &registry.Entry{Config: cfg, Controller: ctrl}, st
}

func TestWithRetryAfterOmittedWhenNoEstimate(t *testing.T) {
	entry, _ := newTestEntry(t, "blog", 0)
	d := &Dispatcher{logger: slog.New(slog.DiscardHandler), now: time.Now}

	resp := d.withRetryAfter(httpwire.Text(503, "unavailable"), entry)
	if _, ok := resp.Headers["Retry-After"]; ok {
		t.Errorf("expected no Retry-After header, got %v", resp.Headers)
	}
}

func TestRecordPersistsConnection(t *testing.T) {
	entry, st := newTestEntry(t, "blog", 95)
	d := &Dispatcher{store: st, logger: slog.New(slog.DiscardHandler), now: time.Now}

	head := requestHead{lines: []string{"GET / HTTP/1.1"}, method: "GET", path: "/"}
	d.record(1000, head, domain.ResultProxySuccess, &entry.Config.Name)

	if len(st.connections) != 1 {
		t.Fatalf("len(connections) = %d, want 1", len(st.connections))
	}
	if st.connections[0].Result != domain.ResultProxySuccess {
		t.Errorf("Result = %v, want ResultProxySuccess", st.connections[0].Result)
	}
}
