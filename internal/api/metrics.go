package api

import (
	"errors"
	"net/url"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
	"github.com/nginx-hibernator/hibernator/internal/registry"
)

const defaultMetricsWindowSeconds = 86400

// serviceMetrics answers GET /hibernator-api/services/:name/metrics?seconds=N,
// implementing the state-history walk specified for the endpoint: available
// time, uptime, hibernation count and a start-duration histogram, all
// derived from one pass over StateHistorySince with the window's last entry
// duplicated at "now" so the final open-ended interval is counted.
func (h *Handler) serviceMetrics(entry *registry.Entry, q url.Values) httpwire.Response {
	seconds := queryIntDefault(q, "seconds", defaultMetricsWindowSeconds)
	if seconds < 0 {
		return httpwire.Text(400, "InvalidUrl")
	}

	now := h.now()
	since := now.Add(-time.Duration(seconds) * time.Second)

	history, err := h.store.StateHistorySince(entry.Config.Name, since)
	if err != nil {
		return httpwire.Text(500, err.Error())
	}

	result := walkMetrics(history, now, seconds)

	estimate, err := h.store.StartDurationEstimate(entry.Config.Name, entry.Config.EtaPercentile)
	if err == nil {
		ms := estimate.Milliseconds()
		result.StartDurationEstimateMs = &ms
	} else if !errors.Is(err, domain.ErrNoData) {
		return httpwire.Text(500, err.Error())
	}

	return jsonResponse(result)
}

// serviceMetrics is the JSON shape the metrics endpoint reports.
type serviceMetrics struct {
	HibernatingPercentage   float64 `json:"hibernating_percentage"`
	AvailablePercentage     float64 `json:"available_percentage"`
	TotalHibernations       int     `json:"total_hibernations"`
	StartDurationHistogram  [5]int  `json:"start_duration_histogram"`
	StartDurationEstimateMs *int64  `json:"start_duration_estimate_ms,omitempty"`
}

// walkMetrics walks history pairwise, attributing each interval to
// available/uptime/hibernation totals by the states at its two ends, with
// the window's last known state duplicated at now so the final interval
// (from the last recorded change up to "now") is counted. Intervals with
// Unknown at either end contribute nothing.
func walkMetrics(history []domain.StateChangeRecord, now time.Time, windowSeconds int) serviceMetrics {
	var available, uptime time.Duration
	var hibernations int
	var samples []time.Duration

	points := history
	if n := len(points); n > 0 && points[n-1].At.Before(now) {
		last := points[n-1]
		points = append(append([]domain.StateChangeRecord(nil), points...), domain.StateChangeRecord{
			SiteName: last.SiteName,
			At:       now,
			State:    last.State,
		})
	}

	for i := 0; i+1 < len(points); i++ {
		from, to := points[i], points[i+1]
		delta := to.At.Sub(from.At)
		if delta <= 0 {
			continue
		}

		if from.State == domain.StateUnknown || to.State == domain.StateUnknown {
			continue
		}

		switch {
		case isDownLike(from.State) && isDownLike(to.State):
			available += delta
		case isDownLike(from.State) && to.State == domain.StateUp:
			available += delta
			if from.State == domain.StateStarting {
				samples = append(samples, delta)
			}
		case from.State == domain.StateUp && isDownLike(to.State):
			available += delta
			uptime += delta
			hibernations++
		case from.State == domain.StateUp && to.State == domain.StateUp:
			available += delta
			uptime += delta
		}
	}

	result := serviceMetrics{TotalHibernations: hibernations}

	if available > 0 {
		result.HibernatingPercentage = float64(available-uptime) / float64(available) * 100
	}
	if windowSeconds > 0 {
		result.AvailablePercentage = float64(available) / float64(time.Duration(windowSeconds)*time.Second) * 100
	}
	for _, sample := range samples {
		result.StartDurationHistogram[histogramBucket(sample)]++
	}

	return result
}

func isDownLike(s domain.SiteState) bool {
	return s == domain.StateDown || s == domain.StateStarting
}

// histogramBucket classifies a start-duration sample into the report's
// five buckets: < 1s, 1-5s, 5-10s, 10-30s, >= 30s.
func histogramBucket(d time.Duration) int {
	switch {
	case d < time.Second:
		return 0
	case d < 5*time.Second:
		return 1
	case d < 10*time.Second:
		return 2
	case d < 30*time.Second:
		return 3
	default:
		return 4
	}
}
