// Package metrics exposes federation, tuple space, and call-handling
// statistics as a prometheus.Collector, gathered at scrape time rather
// than pushed, the same shape the teacher used for its own subsystem
// gauges.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ContactCounter exposes the size of a node's known-peer set.
type ContactCounter interface {
	ContactCount() int
}

// ResourceCounter exposes how many resources a node currently holds
// claimed.
type ResourceCounter interface {
	ClaimedResources() int64
}

// TupleSpaceSizer exposes the total tuple count held by a node's local
// tuple space.
type TupleSpaceSizer interface {
	TupleCount() int
}

// CallVolumeProvider returns recent call counts by outcome, backed by
// internal/callhistory.
type CallVolumeProvider interface {
	CountRecent(ctx context.Context, window time.Duration) (completed, abandoned int64, err error)
}

// Collector is a prometheus.Collector that gathers fabric node metrics
// at scrape time. Any provider may be nil if that subsystem is not
// wired into the running process.
type Collector struct {
	contacts  ContactCounter
	resources ResourceCounter
	tuples    TupleSpaceSizer
	calls     CallVolumeProvider
	startTime time.Time

	contactsDesc  *prometheus.Desc
	resourcesDesc *prometheus.Desc
	tuplesDesc    *prometheus.Desc
	callsDesc     *prometheus.Desc
	uptimeDesc    *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil
// if unavailable.
func NewCollector(
	contacts ContactCounter,
	resources ResourceCounter,
	tuples TupleSpaceSizer,
	calls CallVolumeProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		contacts:  contacts,
		resources: resources,
		tuples:    tuples,
		calls:     calls,
		startTime: startTime,

		contactsDesc: prometheus.NewDesc(
			"fabric_known_contacts",
			"Number of peer nodes currently known to this node",
			nil, nil,
		),
		resourcesDesc: prometheus.NewDesc(
			"fabric_claimed_resources",
			"Number of resources currently claimed by this node",
			nil, nil,
		),
		tuplesDesc: prometheus.NewDesc(
			"fabric_tuple_space_size",
			"Number of tuples held in this node's local tuple space",
			nil, nil,
		),
		callsDesc: prometheus.NewDesc(
			"fabric_calls_total",
			"Number of calls handled in the last five minutes, by outcome",
			[]string{"outcome"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"fabric_uptime_seconds",
			"Seconds since this node process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.contactsDesc
	ch <- c.resourcesDesc
	ch <- c.tuplesDesc
	ch <- c.callsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.contacts != nil {
		ch <- prometheus.MustNewConstMetric(
			c.contactsDesc, prometheus.GaugeValue,
			float64(c.contacts.ContactCount()),
		)
	}

	if c.resources != nil {
		ch <- prometheus.MustNewConstMetric(
			c.resourcesDesc, prometheus.GaugeValue,
			float64(c.resources.ClaimedResources()),
		)
	}

	if c.tuples != nil {
		ch <- prometheus.MustNewConstMetric(
			c.tuplesDesc, prometheus.GaugeValue,
			float64(c.tuples.TupleCount()),
		)
	}

	if c.calls != nil {
		completed, abandoned, err := c.calls.CountRecent(ctx, 5*time.Minute)
		if err != nil {
			slog.Error("metrics: failed to count recent calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.callsDesc, prometheus.CounterValue, float64(completed), "completed",
			)
			ch <- prometheus.MustNewConstMetric(
				c.callsDesc, prometheus.CounterValue, float64(abandoned), "abandoned",
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
