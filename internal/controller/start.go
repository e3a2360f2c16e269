package controller

import (
	"context"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

// start runs the wake-up protocol: a CAS-like append that lets exactly one
// concurrent caller win, an edge reload to the site's own config (so nginx
// is already pointed at the real upstream the instant it's listening), a
// supervisor start, and a poll loop against the health probe bounded by
// start_timeout_ms. It always finishes by waking every WaitingTriggerStart
// caller, whether it actually ran the start or exited early because one
// was already in flight.
func (c *SiteController) start(ctx context.Context) {
	ok, err := c.store.TryAppendState(c.cfg.Name, domain.StateStarting, []domain.SiteState{domain.StateUp, domain.StateStarting})
	if err != nil {
		c.logger.Error("failed to persist starting state", "site", c.cfg.Name, "error", err)
		c.broadcastStarted()
		return
	}
	if !ok {
		// Another start is already in flight, or the site is already up.
		// Waiters still get woken so they re-check state: a caller holding a
		// request for an Up site must not sit blocked until its proxy
		// deadline just because there was nothing to start.
		c.broadcastStarted()
		return
	}

	if err := c.edge.SwapSymlink(ctx, c.cfg.EdgeAvailableConfig, c.cfg.EdgeEnabledConfig); err != nil {
		c.logger.Error("failed to switch nginx to the live site config", "site", c.cfg.Name, "error", err)
	}

	if err := c.runner.Start(ctx, c.cfg.ServiceName); err != nil {
		c.logger.Error("service start failed", "site", c.cfg.Name, "service", c.cfg.ServiceName, "error", err)
		c.finishStart(domain.StateUnknown)
		return
	}

	c.finishStart(c.pollHealth(ctx))
}

// pollHealth polls the upstream health probe every start_check_interval_ms
// until it succeeds or start_timeout_ms has elapsed, returning the terminal
// state the start attempt reached.
func (c *SiteController) pollHealth(ctx context.Context) domain.SiteState {
	interval := time.Duration(c.cfg.StartCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := c.clock.Now().Add(time.Duration(c.cfg.StartTimeoutMs) * time.Millisecond)

	for {
		if c.probe.IsHealthy(ctx, c.cfg.UpstreamPort) {
			return domain.StateUp
		}
		if !c.clock.Now().Before(deadline) {
			return domain.StateUnknown
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.StateUnknown
		case <-timer.C:
		}
	}
}

// finishStart appends the start attempt's terminal state and broadcasts
// completion to every waiter.
func (c *SiteController) finishStart(final domain.SiteState) {
	if err := c.store.AppendState(c.cfg.Name, final); err != nil {
		c.logger.Error("failed to persist start result", "site", c.cfg.Name, "state", final, "error", err)
	}
	c.broadcastStarted()
}
