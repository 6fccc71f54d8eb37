package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_archive_tasks_started_total",
	Help: "Number of archive tasks handed to a worker",
}, []string{"serializer", "op"})

var tasksJoined = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_archive_tasks_joined_total",
	Help: "Number of duplicate archive tasks which joined an in-flight task instead of running",
}, []string{"serializer", "op"})

var tasksAborted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_archive_tasks_aborted_total",
	Help: "Number of archive tasks which completed with an error",
}, []string{"serializer", "op"})

var poolActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "libidx_archive_pool_workers_active",
	Help: "Number of pool workers currently running a job",
}, []string{"pool"})

var poolCallerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_archive_pool_caller_runs_total",
	Help: "Number of jobs run on the submitting goroutine because the pool was saturated",
}, []string{"pool"})

var processorQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "libidx_archive_processor_items_queued",
	Help: "Number of items waiting in an object processor",
}, []string{"processor"})

var processorItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "libidx_archive_processor_items_processed_total",
	Help: "Number of items processed by an object processor",
}, []string{"processor"})
