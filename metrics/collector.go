package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/velmie/drain"
)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(drain.CountersSnapshot) int64
}

// Collector reads a drain.Counters snapshot on every scrape.
type Collector struct {
	counters *drain.Counters
	descs    []counterDesc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for counters labelled with the sink name.
func NewCollector(sink string, counters *drain.Counters) *Collector {
	labels := prometheus.Labels{"sink": sink}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &Collector{
		counters: counters,
		descs: []counterDesc{
			{desc("batch_empty_total", "Drain cycles that found no events."), func(s drain.CountersSnapshot) int64 { return s.BatchEmpty }},
			{desc("batch_underflow_total", "Drain cycles that took fewer events than the batch size."), func(s drain.CountersSnapshot) int64 { return s.BatchUnderflow }},
			{desc("batch_complete_total", "Drain cycles that filled the batch."), func(s drain.CountersSnapshot) int64 { return s.BatchComplete }},
			{desc("drain_attempt_total", "Events submitted to the store."), func(s drain.CountersSnapshot) int64 { return s.DrainAttempt }},
			{desc("drain_success_total", "Events committed after a successful write."), func(s drain.CountersSnapshot) int64 { return s.DrainSuccess }},
			{desc("connection_created_total", "Successful store starts."), func(s drain.CountersSnapshot) int64 { return s.ConnectionCreated }},
			{desc("connection_failed_total", "Failed store starts."), func(s drain.CountersSnapshot) int64 { return s.ConnectionFailed }},
			{desc("connection_closed_total", "Store stops."), func(s drain.CountersSnapshot) int64 { return s.ConnectionClosed }},
			{desc("rollback_failed_total", "Transaction rollbacks that failed."), func(s drain.CountersSnapshot) int64 { return s.RollbackFailed }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.counters.Snapshot()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(snap)))
	}
}
