package pool

import "github.com/prometheus/client_golang/prometheus"

// Collector exports pool statistics as Prometheus metrics. Values are read
// from Stats on every scrape.
type Collector struct {
	pool *Pool

	active    *prometheus.Desc
	idle      *prometheus.Desc
	pending   *prometheus.Desc
	waiters   *prometheus.Desc
	maxSize   *prometheus.Desc
	created   *prometheus.Desc
	destroyed *prometheus.Desc
	evicted   *prometheus.Desc
	invalid   *prometheus.Desc
	borrowed  *prometheus.Desc
	returned  *prometheus.Desc
	waits     *prometheus.Desc
	timeouts  *prometheus.Desc
}

// NewCollector returns a collector for p. Every metric carries a "pool"
// label set to name.
func NewCollector(p *Pool, name string) *Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("quarry", "pool", metric), help, nil, labels)
	}
	return &Collector{
		pool:      p,
		active:    desc("active_connections", "Connections currently borrowed or under eviction test"),
		idle:      desc("idle_connections", "Connections waiting in the idle queue"),
		pending:   desc("pending_connections", "Connections being opened"),
		waiters:   desc("waiters", "Borrowers waiting for a connection"),
		maxSize:   desc("max_connections", "Configured pool capacity"),
		created:   desc("connections_created_total", "Physical connections opened"),
		destroyed: desc("connections_destroyed_total", "Physical connections closed"),
		evicted:   desc("connections_evicted_total", "Idle connections destroyed by the evictor"),
		invalid:   desc("validation_failures_total", "Failed connection validations"),
		borrowed:  desc("borrows_total", "Connections handed out"),
		returned:  desc("returns_total", "Connections given back"),
		waits:     desc("waits_total", "Borrows that had to wait"),
		timeouts:  desc("timeouts_total", "Borrows that failed for lack of a connection"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.active, c.idle, c.pending, c.waiters, c.maxSize,
		c.created, c.destroyed, c.evicted, c.invalid, c.borrowed, c.returned, c.waits, c.timeouts,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(c.active, s.Active)
	gauge(c.idle, s.Idle)
	gauge(c.pending, s.Pending)
	gauge(c.waiters, s.Waiters)
	gauge(c.maxSize, s.MaxSize)
	counter(c.created, s.Created)
	counter(c.destroyed, s.Destroyed)
	counter(c.evicted, s.Evicted)
	counter(c.invalid, s.Invalidated)
	counter(c.borrowed, s.Borrowed)
	counter(c.returned, s.Returned)
	counter(c.waits, s.Waits)
	counter(c.timeouts, s.Timeouts)
}

var _ prometheus.Collector = (*Collector)(nil)
