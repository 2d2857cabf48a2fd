package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeContacts struct{ n int }

func (f fakeContacts) ContactCount() int { return f.n }

type fakeResources struct{ n int64 }

func (f fakeResources) ClaimedResources() int64 { return f.n }

type fakeTuples struct{ n int }

func (f fakeTuples) TupleCount() int { return f.n }

type fakeCalls struct {
	completed, abandoned int64
	err                  error
}

func (f fakeCalls) CountRecent(ctx context.Context, window time.Duration) (int64, int64, error) {
	return f.completed, f.abandoned, f.err
}

func collectMetric(t *testing.T, c *Collector, desc *prometheus.Desc) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var out []*dto.Metric
	for m := range ch {
		if m.Desc() != desc {
			continue
		}
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("writing metric: %v", err)
		}
		out = append(out, &pb)
	}
	return out
}

func TestCollectGauges(t *testing.T) {
	c := NewCollector(fakeContacts{n: 3}, fakeResources{n: 2}, fakeTuples{n: 7}, nil, time.Now().Add(-10*time.Second))

	contacts := collectMetric(t, c, c.contactsDesc)
	if len(contacts) != 1 || contacts[0].GetGauge().GetValue() != 3 {
		t.Fatalf("contacts metric = %+v", contacts)
	}

	resources := collectMetric(t, c, c.resourcesDesc)
	if len(resources) != 1 || resources[0].GetGauge().GetValue() != 2 {
		t.Fatalf("resources metric = %+v", resources)
	}

	tuples := collectMetric(t, c, c.tuplesDesc)
	if len(tuples) != 1 || tuples[0].GetGauge().GetValue() != 7 {
		t.Fatalf("tuples metric = %+v", tuples)
	}

	uptime := collectMetric(t, c, c.uptimeDesc)
	if len(uptime) != 1 || uptime[0].GetGauge().GetValue() < 10 {
		t.Fatalf("uptime metric = %+v", uptime)
	}
}

func TestCollectCallVolumeByOutcome(t *testing.T) {
	c := NewCollector(nil, nil, nil, fakeCalls{completed: 5, abandoned: 2}, time.Now())

	calls := collectMetric(t, c, c.callsDesc)
	if len(calls) != 2 {
		t.Fatalf("expected 2 call series (completed, abandoned), got %d", len(calls))
	}

	var sawCompleted, sawAbandoned bool
	for _, m := range calls {
		for _, lbl := range m.GetLabel() {
			if lbl.GetName() != "outcome" {
				continue
			}
			switch lbl.GetValue() {
			case "completed":
				sawCompleted = m.GetCounter().GetValue() == 5
			case "abandoned":
				sawAbandoned = m.GetCounter().GetValue() == 2
			}
		}
	}
	if !sawCompleted || !sawAbandoned {
		t.Errorf("calls = %+v", calls)
	}
}

func TestCollectSkipsNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil, time.Now())
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	if count != 1 {
		t.Errorf("expected only the uptime metric with all providers nil, got %d metrics", count)
	}
}
