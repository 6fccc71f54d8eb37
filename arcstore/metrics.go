package arcstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var backendGets = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_arcstore_gets_total",
	Help: "Number of block reads, by backend and outcome",
}, []string{"backend", "outcome"})

var backendPuts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_arcstore_puts_total",
	Help: "Number of block writes, by backend",
}, []string{"backend"})

var backendPutBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_arcstore_put_bytes_total",
	Help: "Number of bytes written, by backend",
}, []string{"backend"})

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_arcstore_cache_lookups_total",
	Help: "Number of read cache lookups, by outcome",
}, []string{"cache", "outcome"})
