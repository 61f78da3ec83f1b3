package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prom holds the exported Prometheus series of one run.
type Prom struct {
	Registry *prometheus.Registry

	Verdicts       *prometheus.CounterVec
	Tasks          *prometheus.CounterVec
	Records        *prometheus.CounterVec
	Retries        prometheus.Counter
	InFlight       prometheus.Gauge
	CompileSeconds prometheus.Histogram
}

// NewProm registers the series on a fresh registry, together with the Go
// runtime and process collectors.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prom{
		Registry: reg,
		Verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdistill_verdicts_total",
				Help: "Verdicts per attempt by kind",
			},
			[]string{"kind"},
		),
		Tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdistill_tasks_total",
				Help: "Finished tasks by outcome",
			},
			[]string{"outcome"},
		),
		Records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdistill_records_total",
				Help: "Dataset records written by stream",
			},
			[]string{"stream"},
		),
		Retries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "stdistill_backend_retries_total",
				Help: "Generation calls retried after a transient backend error",
			},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stdistill_inflight_tasks",
				Help: "Tasks admitted and not yet finished",
			},
		),
		CompileSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stdistill_compile_seconds",
				Help:    "Compiler wall time per deep check",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}
