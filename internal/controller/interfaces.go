package controller

import (
	"context"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

// Store is the subset of internal/store.Store a SiteController needs to
// drive the state machine. Defined here, on the consumer side, so
// controller depends only on the narrow slice of behaviour it actually
// exercises.
type Store interface {
	AppendState(site string, state domain.SiteState) error
	TryAppendState(site string, state domain.SiteState, excluded []domain.SiteState) (bool, error)
	LastState(site string) (domain.SiteState, time.Time, error)
	StartDurationEstimate(site string, percentile int) (time.Duration, error)
}

// ServiceRunner starts and stops the systemd unit backing a site.
// Implemented by internal/edge.ServiceRunner.
type ServiceRunner interface {
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
}

// EdgeReloader points the nginx edge config at a site's real upstream or
// the shared hibernating placeholder. Implemented by
// internal/edge.EdgeReloader.
type EdgeReloader interface {
	SwapSymlink(ctx context.Context, target, link string) error
}

// HealthProbe reports whether a site's upstream is currently accepting
// connections. Implemented by internal/edge.HealthProbe.
type HealthProbe interface {
	IsHealthy(ctx context.Context, port uint16) bool
}

// Logger is the narrow structured-logging surface the controller loop
// needs; *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock abstracts time.Now so tests can drive the check/shutdown timeline
// deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
