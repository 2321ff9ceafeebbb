// Package metrics exposes Prometheus counters and gauges for the rule
// engine and agent supervisor, following the
// once-initialized-register-or-ignore-AlreadyRegistered pattern the
// teacher uses for its HTTP instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RulesFired *prometheus.CounterVec
	ActionsRun *prometheus.CounterVec
	QueueDepth prometheus.Gauge
	TasksTotal *prometheus.CounterVec

	once sync.Once
)

// Init registers every collector exactly once. Safe to call from
// multiple command entry points (each cobra RunE calls it independently).
func Init() {
	once.Do(func() {
		RulesFired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_rules_fired_total",
				Help: "Count of rule firings, labeled by rule key and trigger type.",
			},
			[]string{"rule", "trigger"},
		)
		ActionsRun = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_actions_total",
				Help: "Count of actions invoked, labeled by tool/action and outcome.",
			},
			[]string{"action", "status"},
		)
		QueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "automation_core_supervisor_queue_depth",
				Help: "Number of tasks currently queued or running in the supervisor.",
			},
		)
		TasksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_supervisor_tasks_total",
				Help: "Count of supervisor tasks completed, labeled by category and status.",
			},
			[]string{"category", "status"},
		)

		register(RulesFired)
		register(ActionsRun)
		register(QueueDepth)
		register(TasksTotal)
	})
}

func register(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}
