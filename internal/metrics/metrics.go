// Package metrics exposes the prometheus counters/gauges SPEC_FULL.md's
// admin API serves at GET /metrics. Grounded on
// common/metrics/invoker.go's Collector (a struct of pre-registered
// CounterVec/GaugeVec fields, each built against an injected
// *prometheus.Registry rather than the global default registerer, so
// tests can construct an isolated Collector per case).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "fastbuild"

	workerLabel  = "worker"
	outcomeLabel = "outcome"
	commandLabel = "command"
)

// Outcome values for the ClientJobResults counter (spec.md §4.E).
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeSystemError = "system_error"
)

// Collector is the process-wide metrics surface for one cmd/* binary.
// Not every field is populated by every binary: fbuild populates the
// Client* fields plus WorkerControlCommands (for the -workercmd command it
// issues), fworker populates the Worker* fields.
type Collector struct {
	Registerer *prometheus.Registry

	ClientJobResults       *prometheus.CounterVec
	ClientJobDurationSum   *prometheus.CounterVec
	ClientCacheHits        prometheus.Counter
	ClientCacheMisses      prometheus.Counter
	ClientConnectedWorkers *prometheus.GaugeVec
	ClientQueueSize        prometheus.Gauge

	WorkerControlCommands *prometheus.CounterVec
	WorkerCPUBusyFraction prometheus.Gauge
	WorkerJobsInFlight    prometheus.Gauge
}

// NewCollector builds a Collector registered against reg. Passing a
// fresh *prometheus.Registry (rather than prometheus.DefaultRegisterer)
// keeps repeated construction in tests from panicking on duplicate
// registration.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{Registerer: reg}
	c.setupClientMetrics()
	c.setupWorkerMetrics()
	return c
}

func (c *Collector) setupClientMetrics() {
	c.ClientJobResults = c.newCounterVec("client", "job_results_count",
		"Number of job results committed by the distribution core", outcomeLabel)

	c.ClientJobDurationSum = c.newCounterVec("client", "job_duration_ms_sum",
		"Total reported build time across committed jobs, milliseconds", outcomeLabel)

	c.ClientCacheHits = c.newCounter("client", "cache_hits_count",
		"Number of jobs whose output was served from the compile cache")

	c.ClientCacheMisses = c.newCounter("client", "cache_misses_count",
		"Number of cache-eligible jobs not found in the compile cache")

	c.ClientConnectedWorkers = c.newGaugeVec("client", "connected_workers",
		"Current count of connected workers by capability", workerLabel)

	c.ClientQueueSize = c.newGauge("client", "queue_size",
		"Number of jobs currently awaiting or in remote dispatch")
}

func (c *Collector) setupWorkerMetrics() {
	c.WorkerControlCommands = c.newCounterVec("worker", "control_commands_count",
		"Number of control commands received (spec.md §4.F)", commandLabel)

	c.WorkerCPUBusyFraction = c.newGauge("worker", "cpu_busy_fraction",
		"Fraction of detected CPUs currently classified busy")

	c.WorkerJobsInFlight = c.newGauge("worker", "jobs_in_flight",
		"Number of jobs currently executing locally")
}

func (c *Collector) newCounter(subsystem, name, help string) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
	c.Registerer.MustRegister(counter)
	return counter
}

func (c *Collector) newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
	c.Registerer.MustRegister(counter)
	return counter
}

func (c *Collector) newGauge(subsystem, name, help string) prometheus.Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
	c.Registerer.MustRegister(gauge)
	return gauge
}

func (c *Collector) newGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
	c.Registerer.MustRegister(gauge)
	return gauge
}

// RecordJobResult bumps the job-outcome counters (spec.md §4.E's
// success/failure/system-error trichotomy).
func (c *Collector) RecordJobResult(outcome string, buildTimeMS uint64) {
	c.ClientJobResults.WithLabelValues(outcome).Inc()
	c.ClientJobDurationSum.WithLabelValues(outcome).Add(float64(buildTimeMS))
}

// SetConnectedWorkers updates the connected-worker gauge for one
// capability ("build" or "control").
func (c *Collector) SetConnectedWorkers(capability string, count int) {
	c.ClientConnectedWorkers.WithLabelValues(capability).Set(float64(count))
}

// RecordControlCommand bumps the control-command counter, labelled with
// the command name the caller passes (fworker: setmode/addblocking/
// removeblocking/requestserverinfo; fbuild: its -workercmd command).
func (c *Collector) RecordControlCommand(command string) {
	c.WorkerControlCommands.WithLabelValues(command).Inc()
}
