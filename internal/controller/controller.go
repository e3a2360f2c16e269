// Package controller drives the four-state lifecycle machine
// (Unknown/Down/Up/Starting) for a single hibernating site: a scheduled
// check() that may shut the site down, and a start() triggered by incoming
// traffic that brings it back up, both owned by one long-lived select loop
// per site.
package controller

import (
	"context"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/config"
	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/logtail"
	"github.com/nginx-hibernator/hibernator/pkg/eventbus"
)

// SiteController owns one site's lifecycle: it is the only writer of that
// site's rows in Store, so every external trigger goes through
// TriggerStart/WaitingTriggerStart rather than mutating state directly.
type SiteController struct {
	cfg config.SiteConfig

	store  Store
	runner ServiceRunner
	edge   EdgeReloader
	probe  HealthProbe
	clock  Clock
	logger Logger

	startCh    chan struct{}
	startedBus *eventbus.EventBus[struct{}]
}

// New constructs a SiteController and appends its initial Unknown state
// row: until a check or start observes otherwise, the site's real
// condition genuinely is unknown.
func New(cfg config.SiteConfig, store Store, runner ServiceRunner, edgeReloader EdgeReloader, probe HealthProbe, logger Logger) (*SiteController, error) {
	c := &SiteController{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		edge:       edgeReloader,
		probe:      probe,
		clock:      realClock{},
		logger:     logger,
		startCh:    make(chan struct{}, 1),
		startedBus: eventbus.New[struct{}](),
	}
	if err := c.store.AppendState(c.cfg.Name, domain.StateUnknown); err != nil {
		return nil, err
	}
	return c, nil
}

// TriggerStart enqueues a start() request without blocking. A second
// trigger while one is already pending is silently dropped: one pending
// mailbox slot is all the coalescing needs, since start() itself is
// idempotent once it's running (TryAppendState excludes the Up/Starting
// case).
func (c *SiteController) TriggerStart() {
	select {
	case c.startCh <- struct{}{}:
	default:
	}
}

// WaitingTriggerStart triggers a start and blocks until a start() call
// completes (successfully or not) somewhere, possibly one already in
// flight from a concurrent caller, since every waiter subscribes to the
// same broadcast before triggering.
func (c *SiteController) WaitingTriggerStart() {
	ch, cleanup := c.startedBus.Subscribe(context.Background())
	defer cleanup()
	c.TriggerStart()
	<-ch
}

// broadcastStarted wakes every current WaitingTriggerStart caller. Delivery
// is best-effort per subscriber (a full buffer drops the event), but the
// buffer is sized well beyond the number of callers one site ever has
// waiting at once, so this never loses a legitimate waiter in practice.
func (c *SiteController) broadcastStarted() {
	c.startedBus.Publish(struct{}{})
}

// CurrentState returns the site's most recently recorded state, or Unknown
// if it has none.
func (c *SiteController) CurrentState() domain.SiteState {
	state, _, err := c.store.LastState(c.cfg.Name)
	if err != nil {
		return domain.StateUnknown
	}
	return state
}

// CurrentStateWithStartedAt returns the most recently recorded state
// together with the time the current uninterrupted run of that state began
// (re-asserted rows of the same state do not move it forward).
func (c *SiteController) CurrentStateWithStartedAt() (domain.SiteState, time.Time) {
	state, at, err := c.store.LastState(c.cfg.Name)
	if err != nil {
		return domain.StateUnknown, c.clock.Now()
	}
	return state, at
}

// Progress reports (elapsed, estimate) while the site is Starting and eta
// estimation is enabled (EtaPercentile > 0 and a sample exists); ok is false
// otherwise.
func (c *SiteController) Progress() (elapsed, estimate time.Duration, ok bool) {
	if c.cfg.EtaPercentile <= 0 {
		return 0, 0, false
	}

	state, startedAt := c.CurrentStateWithStartedAt()
	if state != domain.StateStarting {
		return 0, 0, false
	}

	est, err := c.store.StartDurationEstimate(c.cfg.Name, c.cfg.EtaPercentile)
	if err != nil {
		return 0, 0, false
	}

	return c.clock.Now().Sub(startedAt), est, true
}

// Run executes the cooperative check()/start() loop until ctx is
// cancelled: a single select over a scheduled timer and the start-trigger
// channel, so exactly one of those two code paths ever runs at a time
// within a controller.
func (c *SiteController) Run(ctx context.Context) {
	nextCheck := c.clock.Now()

	for {
		wait := time.Until(nextCheck)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			nextCheck = c.check(ctx)
		case <-c.startCh:
			timer.Stop()
			c.start(ctx)
			nextCheck = c.clock.Now()
		}
	}
}

// setState persists state unconditionally and, if it actually differs from
// the previously observed state, runs that transition's side effects. It is
// the only path that reaches onDown, so it is used by check() but not by
// start(), which needs TryAppendState's CAS return value instead.
func (c *SiteController) setState(ctx context.Context, state domain.SiteState) {
	old := c.CurrentState()
	if err := c.store.AppendState(c.cfg.Name, state); err != nil {
		c.logger.Error("failed to persist state", "site", c.cfg.Name, "state", state, "error", err)
		return
	}
	if old == state {
		return
	}

	if state == domain.StateDown {
		c.onDown(ctx)
	}
}

// onDown runs the Up->Down transition's side effects: point the edge at the
// hibernating config, then stop the backing service. A failed stop leaves
// the service in an unknown condition, so it is recorded as such rather than
// left claiming Down.
func (c *SiteController) onDown(ctx context.Context) {
	if err := c.edge.SwapSymlink(ctx, c.cfg.EdgeHibernatingConfig, c.cfg.EdgeEnabledConfig); err != nil {
		c.logger.Error("failed to switch nginx to hibernating config", "site", c.cfg.Name, "error", err)
	}
	if err := c.runner.Stop(ctx, c.cfg.ServiceName); err != nil {
		c.logger.Error("failed to stop service", "site", c.cfg.Name, "service", c.cfg.ServiceName, "error", err)
		if aerr := c.store.AppendState(c.cfg.Name, domain.StateUnknown); aerr != nil {
			c.logger.Error("failed to persist unknown state after stop failure", "site", c.cfg.Name, "error", aerr)
		}
	}
}

func (c *SiteController) logtailFilters() logtail.Filters {
	return logtail.Filters{
		Substring:     c.cfg.AccessLogFilter,
		IPBlacklist:   c.cfg.IPBlacklist,
		IPWhitelist:   c.cfg.IPWhitelist,
		PathBlacklist: c.cfg.PathBlacklist,
	}
}
