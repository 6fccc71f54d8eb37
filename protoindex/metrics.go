package protoindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var indexPushes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "libidx_index_pushes_total",
	Help: "Number of index documents pushed",
})

var termLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_index_term_lookups_total",
	Help: "Number of term lookups, by whether they joined one already in flight",
}, []string{"joined"})

var lookupHops = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "libidx_index_lookup_hops",
	Help:    "Ghost nodes fetched to resolve a single term lookup",
	Buckets: prometheus.LinearBuckets(0, 1, 10),
})

var entriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_index_entries_written_total",
	Help: "Number of posting and uri entries put or removed",
}, []string{"table", "op"})
