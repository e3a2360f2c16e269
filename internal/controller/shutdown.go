package controller

import (
	"context"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/logtail"
)

// shutdownDecision is the result of fusing the site's last real request
// (from the access log) with its last state-change timestamp: either shut
// down now, or the earliest time a subsequent check could plausibly decide
// to.
type shutdownDecision struct {
	now       bool
	nextCheck time.Time
}

// shouldShutdown reads the newest access-log line surviving the site's
// filter chain and the site's last recorded state, then decides whether
// the site has been idle for at least one keep-alive window.
func (c *SiteController) shouldShutdown(now time.Time) shutdownDecision {
	keepAlive := time.Duration(c.cfg.KeepAliveSeconds) * time.Second

	lastReq, found, err := logtail.LastRequest(c.cfg.AccessLogPath, c.logtailFilters())
	if err != nil {
		c.logger.Warn("failed to read access log", "site", c.cfg.Name, "path", c.cfg.AccessLogPath, "error", err)
		found = false
	}

	state, stateAt := c.CurrentStateWithStartedAt()

	if !found {
		if state != domain.StateUp {
			return shutdownDecision{now: false, nextCheck: now.Add(keepAlive)}
		}
		if now.Sub(stateAt) >= keepAlive {
			return shutdownDecision{now: true}
		}
		return shutdownDecision{now: false, nextCheck: stateAt.Add(keepAlive)}
	}

	lastAction := lastReq
	if state != domain.StateUnknown && stateAt.After(lastAction) {
		lastAction = stateAt
	}

	if now.Sub(lastAction) > keepAlive {
		return shutdownDecision{now: true}
	}
	return shutdownDecision{now: false, nextCheck: lastAction.Add(keepAlive).Add(time.Second)}
}

// check runs one scheduled tick of the control loop: it may flip an Up site
// to Down when its keep-alive window has elapsed, or simply re-assert the
// current Up/Down state (a timestamped write with no side effects, since
// nothing changed). Starting and Unknown sites are left alone here; only
// start() moves them.
func (c *SiteController) check(ctx context.Context) time.Time {
	now := c.clock.Now()
	decision := c.shouldShutdown(now)
	state := c.CurrentState()

	switch state {
	case domain.StateUp:
		if decision.now {
			c.setState(ctx, domain.StateDown)
		} else {
			c.setState(ctx, domain.StateUp)
		}
	case domain.StateDown:
		c.setState(ctx, domain.StateDown)
	}

	if decision.now {
		return now.Add(time.Duration(c.cfg.KeepAliveSeconds) * time.Second)
	}
	return decision.nextCheck
}
