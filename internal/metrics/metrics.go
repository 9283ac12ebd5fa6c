// Package metrics exposes Prometheus metrics for the engine and the MCP
// server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrypster/memento-graph/pkg/types"
)

// Namespace prefixes every metric name.
const Namespace = "memento"

// Collector holds all Prometheus metrics for one process. It satisfies
// engine.Observer and mcp.ToolObserver.
type Collector struct {
	registry *prometheus.Registry

	ToolCalls    *prometheus.CounterVec
	ToolErrors   *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	Searches       *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	SearchResults  prometheus.Histogram
	Expansions     prometheus.Counter

	NodesUpserted prometheus.Counter
	EdgesUpserted prometheus.Counter
	ChunksIndexed prometheus.Counter
	ChunksDeleted prometheus.Counter
}

// NewCollector creates a collector on its own registry, so several can
// coexist in tests.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of MCP tool calls",
		}, []string{"tool"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tool_errors_total",
			Help:      "Total number of failed MCP tool calls",
		}, []string{"tool"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "searches_total",
			Help:      "Total number of searches by query type and outcome",
		}, []string{"query_type", "status"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query_type"}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "search_results",
			Help:      "Primary results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		Expansions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "search_expansions_total",
			Help:      "Total number of related results appended by graph expansion",
		}),
		NodesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nodes_upserted_total",
			Help:      "Total number of graph nodes created or updated",
		}),
		EdgesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "edges_upserted_total",
			Help:      "Total number of graph edges created or updated",
		}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of note chunks indexed from files",
		}),
		ChunksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_deleted_total",
			Help:      "Total number of chunks removed from the index",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ToolCalls, c.ToolErrors, c.ToolDuration,
		c.Searches, c.SearchDuration, c.SearchResults, c.Expansions,
		c.NodesUpserted, c.EdgesUpserted, c.ChunksIndexed, c.ChunksDeleted,
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveToolCall records one MCP tool call.
func (c *Collector) ObserveToolCall(tool string, elapsed time.Duration, failed bool) {
	c.ToolCalls.WithLabelValues(tool).Inc()
	c.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	if failed {
		c.ToolErrors.WithLabelValues(tool).Inc()
	}
}

// ObserveStore records the graph writes of one stored note.
func (c *Collector) ObserveStore(nodes, edges int) {
	c.NodesUpserted.Add(float64(nodes))
	c.EdgesUpserted.Add(float64(edges))
}

// ObserveIndex records a file (re)index or removal.
func (c *Collector) ObserveIndex(chunks, deleted int) {
	c.ChunksIndexed.Add(float64(chunks))
	c.ChunksDeleted.Add(float64(deleted))
}

// ObserveSearch records one search.
func (c *Collector) ObserveSearch(queryType types.QueryType, elapsed time.Duration, results, related int, failed bool) {
	qt := string(queryType)
	if qt == "" {
		qt = "unknown"
	}
	status := "ok"
	if failed {
		status = "error"
	}
	c.Searches.WithLabelValues(qt, status).Inc()
	c.SearchDuration.WithLabelValues(qt).Observe(elapsed.Seconds())
	if !failed {
		c.SearchResults.Observe(float64(results))
		c.Expansions.Add(float64(related))
	}
}
