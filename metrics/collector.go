// Package metrics exports ingestion and retrieval activity as Prometheus metrics.
//
// A Collector is registered once per process and handed to the components
// it observes:
//
//	c, _ := metrics.NewCollector(prometheus.DefaultRegisterer)
//	orch, _ := ingestion.New(store, chunker, embedder, manager, ingestion.WithObserver(c))
//	results, _ := retriever.RetrieveWithMonitor(ctx, tenant, query, 5, c)
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/ingestion"
	"github.com/poiesic/ragify/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "ragify"

// ErrRegistererRequired is returned when no registerer is given.
var ErrRegistererRequired = errors.New("prometheus registerer is required")

// Collector records ingestion transitions, retrieval queries and
// reconciliation passes. It holds no per-query state and is safe for
// concurrent use.
type Collector struct {
	reg prometheus.Registerer

	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	ingestTime  prometheus.Histogram
	chunks      prometheus.Counter

	queries     *prometheus.CounterVec
	queryTime   prometheus.Histogram
	results     prometheus.Histogram
	keywordHits prometheus.Counter
	topScore    prometheus.Histogram

	reconciled *prometheus.CounterVec
}

var (
	_ ingestion.Observer = (*Collector)(nil)
	_ retrieval.Monitor  = (*Collector)(nil)
)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, ErrRegistererRequired
	}
	c := &Collector{
		reg: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "transitions_total",
			Help:      "Ingestion state transitions by target state.",
		}, []string{"state"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "failures_total",
			Help:      "Failed ingestions by stage and error kind.",
		}, []string{"stage", "kind"}),
		ingestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Time from receipt to completion of successful ingestions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Chunks committed by successful ingestions.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Retrieval queries by outcome.",
		}, []string{"outcome"}),
		queryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval latency including query embedding.",
			Buckets:   prometheus.DefBuckets,
		}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Results returned per successful query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		keywordHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "keyword_hits_total",
			Help:      "Results boosted for containing every query keyword.",
		}),
		topScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "retrieval",
			Name:      "top_score",
			Help:      "Score of the best result per query.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconciler",
			Name:      "intents_total",
			Help:      "Index intents handled by the reconciler by outcome.",
		}, []string{"outcome"}),
	}
	for _, m := range []prometheus.Collector{
		c.transitions, c.failures, c.ingestTime, c.chunks,
		c.queries, c.queryTime, c.results, c.keywordHits, c.topScore,
		c.reconciled,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe records an ingestion event.
func (c *Collector) Observe(ev ingestion.Event) {
	c.transitions.WithLabelValues(string(ev.State)).Inc()
	switch ev.State {
	case core.StateDone:
		c.ingestTime.Observe(ev.Elapsed.Seconds())
		c.chunks.Add(float64(ev.Chunks))
	case core.StateFailed:
		c.failures.WithLabelValues(string(ev.Stage), string(core.KindOf(ev.Err))).Inc()
	}
}

// Start is a no-op; counting happens when the query finishes.
func (c *Collector) Start(core.Tenant, string) {}

// AfterEmbedding is a no-op.
func (c *Collector) AfterEmbedding(int) {}

// AfterSearch is a no-op.
func (c *Collector) AfterSearch([]core.ScoredPoint) {}

// KeywordHit counts a boosted result.
func (c *Collector) KeywordHit(core.RetrievalResult) {
	c.keywordHits.Inc()
}

// Finish records the outcome of a query.
func (c *Collector) Finish(results []core.RetrievalResult, err error, elapsed time.Duration) {
	c.queryTime.Observe(elapsed.Seconds())
	if err != nil {
		c.queries.WithLabelValues(string(core.KindOf(err))).Inc()
		return
	}
	c.queries.WithLabelValues("ok").Inc()
	c.results.Observe(float64(len(results)))
	if len(results) > 0 {
		c.topScore.Observe(float64(results[0].Score))
	}
}

// ObserveReconcile records a reconciliation pass.
// It matches the signature expected by ingestion.WithReportFunc.
func (c *Collector) ObserveReconcile(report *ingestion.ReconcileReport) {
	if report == nil {
		return
	}
	c.reconciled.WithLabelValues("committed").Add(float64(report.Committed))
	c.reconciled.WithLabelValues("cleaned").Add(float64(report.Cleaned))
	c.reconciled.WithLabelValues("failed").Add(float64(report.Failed))
}

// WatchQueue exports the queue's pending job count as a gauge.
func (c *Collector) WatchQueue(q interface{ Pending() int }) error {
	return c.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "queue",
		Name:      "pending_jobs",
		Help:      "Ingestion jobs accepted but not finished.",
	}, func() float64 { return float64(q.Pending()) }))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
