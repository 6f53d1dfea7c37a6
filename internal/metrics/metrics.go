// Package metrics exposes the prometheus collectors for the storage and
// collection layers. The engine never starts its own HTTP server — a host
// process registers Collectors() with its own registry/handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric the engine publishes. A nil *Collectors
// is safe to use everywhere below as a no-op (every method checks for
// nil first), so instrumentation is opt-in.
type Collectors struct {
	TxnBegun     *prometheus.CounterVec
	TxnCommitted *prometheus.CounterVec
	TxnAborted   *prometheus.CounterVec
	CommitLatency prometheus.Histogram
	LiveEntries   *prometheus.GaugeVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
}

// New builds a fresh set of collectors under the given namespace, e.g.
// "mongolite".
func New(namespace string) *Collectors {
	return &Collectors{
		TxnBegun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "txn_begun_total",
			Help: "Transactions begun, by kind (read, write, nested).",
		}, []string{"kind"}),
		TxnCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "txn_committed_total",
			Help: "Transactions committed, by kind.",
		}, []string{"kind"}),
		TxnAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "txn_aborted_total",
			Help: "Transactions aborted, by kind.",
		}, []string{"kind"}),
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "commit_latency_seconds",
			Help:    "Time spent in write-transaction commit, including fsync.",
			Buckets: prometheus.DefBuckets,
		}),
		LiveEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "collection", Name: "live_entries",
			Help: "Live primary entries per collection.",
		}, []string{"collection"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collection", Name: "doc_cache_hits_total",
			Help: "Document cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collection", Name: "doc_cache_misses_total",
			Help: "Document cache misses.",
		}),
	}
}

// Collectors returns every prometheus.Collector for registration with a
// host registry, e.g. prometheus.MustRegister(c.Collectors()...).
func (c *Collectors) Collectors() []prometheus.Collector {
	if c == nil {
		return nil
	}
	return []prometheus.Collector{
		c.TxnBegun, c.TxnCommitted, c.TxnAborted,
		c.CommitLatency, c.LiveEntries, c.CacheHits, c.CacheMisses,
	}
}

func (c *Collectors) txnBegun(kind string) {
	if c == nil {
		return
	}
	c.TxnBegun.WithLabelValues(kind).Inc()
}

func (c *Collectors) txnCommitted(kind string) {
	if c == nil {
		return
	}
	c.TxnCommitted.WithLabelValues(kind).Inc()
}

func (c *Collectors) txnAborted(kind string) {
	if c == nil {
		return
	}
	c.TxnAborted.WithLabelValues(kind).Inc()
}

// ObserveCommit is called once per write-commit with the wall time spent.
func (c *Collectors) ObserveCommit(seconds float64) {
	if c == nil {
		return
	}
	c.CommitLatency.Observe(seconds)
}

// SetLiveEntries publishes the live-entry count for a collection.
func (c *Collectors) SetLiveEntries(collection string, n int) {
	if c == nil {
		return
	}
	c.LiveEntries.WithLabelValues(collection).Set(float64(n))
}

func (c *Collectors) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

func (c *Collectors) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}

// TxnBeginRead, TxnBeginWrite and TxnBeginNested record that a
// transaction of that kind ("read", "write", "nested") has begun.
func (c *Collectors) TxnBeginRead()  { c.txnBegun("read") }
func (c *Collectors) TxnBeginWrite() { c.txnBegun("write") }
func (c *Collectors) TxnBeginNested() { c.txnBegun("nested") }

func (c *Collectors) TxnCommitWrite()  { c.txnCommitted("write") }
func (c *Collectors) TxnCommitNested() { c.txnCommitted("nested") }
func (c *Collectors) TxnAbortWrite()   { c.txnAborted("write") }
func (c *Collectors) TxnAbortNested()  { c.txnAborted("nested") }
