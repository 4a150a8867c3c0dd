package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks rule engine activity.
//
// Metrics:
//   - <ns>_rule_executions_total: rule evaluations by rule type and execution status
//   - <ns>_rule_execution_duration_seconds: single rule evaluation latency by rule type
//   - <ns>_rule_set_short_circuits_total: rule set runs halted by a failing CRITICAL rule
//   - <ns>_rule_lifecycle_events_total: lifecycle mutations by event type
//   - <ns>_rule_test_cases_total: test case outcomes by status
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	shortCircuitsTotal *prometheus.CounterVec
	lifecycleTotal     *prometheus.CounterVec
	testCasesTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics with the provided registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_executions_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"rule_type", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_execution_duration_seconds",
				Help:      "Duration of a single rule evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~330ms
			},
			[]string{"rule_type"},
		),
		shortCircuitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_set_short_circuits_total",
				Help:      "Rule set runs stopped by a failing CRITICAL rule",
			},
			[]string{"rule_type"},
		),
		lifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_lifecycle_events_total",
				Help:      "Rule lifecycle mutations",
			},
			[]string{"event"},
		),
		testCasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_test_cases_total",
				Help:      "Rule test case outcomes",
			},
			[]string{"status"},
		),
	}

	registerer.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.shortCircuitsTotal,
		m.lifecycleTotal,
		m.testCasesTotal,
	)

	return m
}

func (m *Metrics) observeExecution(ruleType RuleType, status ExecutionStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(string(ruleType), string(status)).Inc()
	m.executionDuration.WithLabelValues(string(ruleType)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeShortCircuit(ruleType RuleType) {
	if m == nil {
		return
	}
	m.shortCircuitsTotal.WithLabelValues(string(ruleType)).Inc()
}

func (m *Metrics) observeLifecycle(event AuditEventType) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(string(event)).Inc()
}

// ObserveTestCase records a test case outcome. Exported for the test suite runner.
func (m *Metrics) ObserveTestCase(status string) {
	if m == nil {
		return
	}
	m.testCasesTotal.WithLabelValues(status).Inc()
}
