// Package metrics provides Prometheus metrics for go-openvpn-launcher.
//
// Every Collector owns its metric instances, so several collectors can
// register with separate registries in one process.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openvpn"

// uptimeCompression bounds the t-digest at roughly 100 centroids.
const uptimeCompression = 100

// Collector manages all Prometheus metrics for one supervised connection.
type Collector struct {
	spawnsTotal        prometheus.Counter
	spawnFailuresTotal prometheus.Counter
	restartsTotal      prometheus.Counter
	exitsTotal         *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	up                 prometheus.Gauge
	info               *prometheus.GaugeVec
	sessionUptime      prometheus.Histogram
	uptimeP50          prometheus.Gauge
	uptimeP95          prometheus.Gauge

	// Timing
	startTime time.Time

	// For summary generation
	mu            sync.Mutex
	totalStarts   int64
	totalRestarts int64
	spawnFailures int64
	exitCodes     map[int]int64
	events        map[string]int64
	uptimes       *tdigest.TDigest
	connected     bool
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Binary  string
	Remotes []string
}

// NewCollector creates a new metrics collector registered with the
// default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		spawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Total OpenVPN processes spawned",
		}),
		spawnFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Total failed spawn attempts",
		}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Total restarts scheduled by the supervisor",
		}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Process exits by category (success, error, signal)",
		}, []string{"category"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Connection events seen in OpenVPN output",
		}, []string{"event"}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 while the tunnel reports Initialization Sequence Completed",
		}),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the launched client (value always 1)",
		}, []string{"binary", "remotes"}),
		sessionUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_uptime_seconds",
			Help:      "Lifetime of each OpenVPN process",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1s .. ~3d
		}),
		uptimeP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_uptime_p50_seconds",
			Help:      "Median session lifetime",
		}),
		uptimeP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_uptime_p95_seconds",
			Help:      "95th percentile session lifetime",
		}),

		startTime: time.Now(),
		exitCodes: make(map[int]int64),
		events:    make(map[string]int64),
		uptimes:   tdigest.NewWithCompression(uptimeCompression),
	}

	registry.MustRegister(
		c.spawnsTotal,
		c.spawnFailuresTotal,
		c.restartsTotal,
		c.exitsTotal,
		c.eventsTotal,
		c.up,
		c.info,
		c.sessionUptime,
		c.uptimeP50,
		c.uptimeP95,
	)

	c.info.WithLabelValues(cfg.Binary, strings.Join(cfg.Remotes, ",")).Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ClientStarted records a successful spawn.
func (c *Collector) ClientStarted() {
	c.spawnsTotal.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// SpawnFailed records a failed spawn attempt.
func (c *Collector) SpawnFailed() {
	c.spawnFailuresTotal.Inc()

	c.mu.Lock()
	c.spawnFailures++
	c.mu.Unlock()
}

// ClientRestarted records a restart event.
func (c *Collector) ClientRestarted() {
	c.restartsTotal.Inc()

	c.mu.Lock()
	c.totalRestarts++
	c.mu.Unlock()
}

// RecordExit records a process exit event. The tunnel is down after
// any exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.exitsTotal.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.sessionUptime.Observe(uptime.Seconds())
	c.up.Set(0)

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.connected = false
	c.uptimes.Add(uptime.Seconds(), 1)
	p50 := c.uptimes.Quantile(0.50)
	p95 := c.uptimes.Quantile(0.95)
	c.mu.Unlock()

	c.uptimeP50.Set(p50)
	c.uptimeP95.Set(p95)
}

// RecordEvent records a connection event by name. "connected" raises
// openvpn_up; "restart" lowers it until the next "connected".
func (c *Collector) RecordEvent(event string) {
	c.eventsTotal.WithLabelValues(event).Inc()

	c.mu.Lock()
	c.events[event]++
	switch event {
	case "connected":
		c.connected = true
	case "restart", "auth_failed":
		c.connected = false
	}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.up.Set(1)
	} else {
		c.up.Set(0)
	}
}

// Connected reports whether the last event left the tunnel up.
func (c *Collector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ExitCategory classifies an exit code as "success", "signal" or "error".
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration      time.Duration
	TotalStarts   int64
	TotalRestarts int64
	SpawnFailures int64
	ExitCodes     map[int]int64
	Events        map[string]int64
	UptimeP50     time.Duration
	UptimeP95     time.Duration
	UptimeP99     time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:      time.Since(c.startTime),
		TotalStarts:   c.totalStarts,
		TotalRestarts: c.totalRestarts,
		SpawnFailures: c.spawnFailures,
		ExitCodes:     make(map[int]int64, len(c.exitCodes)),
		Events:        make(map[string]int64, len(c.events)),
	}

	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	for ev, count := range c.events {
		s.Events[ev] = count
	}

	if c.uptimes.Count() > 0 {
		s.UptimeP50 = seconds(c.uptimes.Quantile(0.50))
		s.UptimeP95 = seconds(c.uptimes.Quantile(0.95))
		s.UptimeP99 = seconds(c.uptimes.Quantile(0.99))
	}

	return s
}

// TotalStarts returns the total number of spawns.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

// TotalRestarts returns the total number of restarts.
func (c *Collector) TotalRestarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRestarts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
