package api

import (
	"testing"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
)

func rec(site string, at time.Time, state domain.SiteState) domain.StateChangeRecord {
	return domain.StateChangeRecord{SiteName: site, At: at, State: state}
}

func TestWalkMetricsFullWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	history := []domain.StateChangeRecord{
		rec("blog", base, domain.StateDown),
		rec("blog", base.Add(10*time.Second), domain.StateStarting),
		rec("blog", base.Add(12*time.Second), domain.StateUp),
		rec("blog", base.Add(72*time.Second), domain.StateDown),
		rec("blog", base.Add(75*time.Second), domain.StateUp),
		rec("blog", base.Add(135*time.Second), domain.StateUp),
	}
	now := base.Add(135 * time.Second)

	m := walkMetrics(history, now, 135)

	if m.TotalHibernations != 1 {
		t.Errorf("TotalHibernations = %d, want 1", m.TotalHibernations)
	}
	// One start sample of 2s lands in the 1-5s bucket.
	want := [5]int{0, 1, 0, 0, 0}
	if m.StartDurationHistogram != want {
		t.Errorf("StartDurationHistogram = %v, want %v", m.StartDurationHistogram, want)
	}
	// uptime 120s of 135s available: (135-120)/135*100.
	if got := m.HibernatingPercentage; got < 11.10 || got > 11.12 {
		t.Errorf("HibernatingPercentage = %f, want ~11.11", got)
	}
	if got := m.AvailablePercentage; got < 99.99 || got > 100.01 {
		t.Errorf("AvailablePercentage = %f, want 100", got)
	}
}

func TestWalkMetricsDuplicatesLastEntryAtNow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	history := []domain.StateChangeRecord{
		rec("blog", base, domain.StateUp),
	}
	now := base.Add(60 * time.Second)

	m := walkMetrics(history, now, 60)

	if got := m.AvailablePercentage; got < 99.99 || got > 100.01 {
		t.Errorf("AvailablePercentage = %f, want 100 (open interval counted to now)", got)
	}
	if m.TotalHibernations != 0 {
		t.Errorf("TotalHibernations = %d, want 0", m.TotalHibernations)
	}
}

func TestWalkMetricsUnknownContributesNothing(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	history := []domain.StateChangeRecord{
		rec("blog", base, domain.StateUnknown),
		rec("blog", base.Add(30*time.Second), domain.StateUp),
	}
	now := base.Add(60 * time.Second)

	m := walkMetrics(history, now, 60)

	// Only the Up->Up tail (30s of 60s) counts.
	if got := m.AvailablePercentage; got < 49.99 || got > 50.01 {
		t.Errorf("AvailablePercentage = %f, want 50", got)
	}
	if m.HibernatingPercentage != 0 {
		t.Errorf("HibernatingPercentage = %f, want 0", m.HibernatingPercentage)
	}
}

func TestWalkMetricsZeroWindowAvoidsDivideByZero(t *testing.T) {
	m := walkMetrics(nil, time.Unix(1_700_000_000, 0), 0)
	if m.AvailablePercentage != 0 {
		t.Errorf("AvailablePercentage = %f, want 0", m.AvailablePercentage)
	}
	if m.HibernatingPercentage != 0 {
		t.Errorf("HibernatingPercentage = %f, want 0", m.HibernatingPercentage)
	}
}
