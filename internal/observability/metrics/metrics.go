package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "waterwatch_"

var (
	registerOnce sync.Once

	pollCycles        prometheus.Counter
	pollCycleDuration prometheus.Histogram
	ruleVerdicts      *prometheus.CounterVec
	rulesSkipped      *prometheus.CounterVec
	deltas            *prometheus.CounterVec
	alarmsOpened      *prometheus.CounterVec
	alarmsCleared     prometheus.Counter
	smsAttempts       *prometheus.CounterVec
	historianErrors   prometheus.Counter
	openAlarms        prometheus.Gauge
)

// Init registers engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total completed poll cycles",
			},
		)
		pollCycleDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		ruleVerdicts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_verdicts_total",
				Help: "Total rule evaluations by verdict",
			},
			[]string{"verdict"},
		)
		rulesSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rules_skipped_total",
				Help: "Total rules skipped by reason",
			},
			[]string{"reason"},
		)
		deltas = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deltas_total",
				Help: "Total computed usage deltas by confidence",
			},
			[]string{"confidence"},
		)
		alarmsOpened = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_opened_total",
				Help: "Total alarms opened by severity",
			},
			[]string{"severity"},
		)
		alarmsCleared = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_cleared_total",
				Help: "Total alarms cleared",
			},
		)
		smsAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sms_attempts_total",
				Help: "Total SMS delivery attempts by result",
			},
			[]string{"result"},
		)
		historianErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "historian_errors_total",
				Help: "Total historian read failures",
			},
		)
		openAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "open_alarms",
				Help: "Currently open alarm events",
			},
		)

		prometheus.MustRegister(
			pollCycles,
			pollCycleDuration,
			ruleVerdicts,
			rulesSkipped,
			deltas,
			alarmsOpened,
			alarmsCleared,
			smsAttempts,
			historianErrors,
			openAlarms,
		)
	})
}

// IncPollCycle counts a completed poll cycle.
func IncPollCycle() {
	if pollCycles != nil {
		pollCycles.Inc()
	}
}

// ObserveCycleDuration records a poll cycle duration.
func ObserveCycleDuration(d time.Duration) {
	if pollCycleDuration != nil {
		pollCycleDuration.Observe(d.Seconds())
	}
}

// IncVerdict counts a rule verdict.
func IncVerdict(verdict string) {
	if ruleVerdicts != nil {
		ruleVerdicts.WithLabelValues(verdict).Inc()
	}
}

// IncRuleSkipped counts a skipped rule.
func IncRuleSkipped(reason string) {
	if rulesSkipped != nil {
		rulesSkipped.WithLabelValues(reason).Inc()
	}
}

// IncDelta counts a computed delta by confidence.
func IncDelta(confidence string) {
	if deltas != nil {
		deltas.WithLabelValues(confidence).Inc()
	}
}

// IncAlarmOpened counts an opened alarm.
func IncAlarmOpened(severity string) {
	if alarmsOpened != nil {
		alarmsOpened.WithLabelValues(severity).Inc()
	}
}

// IncAlarmCleared counts a cleared alarm.
func IncAlarmCleared() {
	if alarmsCleared != nil {
		alarmsCleared.Inc()
	}
}

// IncSMSAttempt counts an SMS delivery attempt by result.
func IncSMSAttempt(result string) {
	if smsAttempts != nil {
		smsAttempts.WithLabelValues(result).Inc()
	}
}

// IncHistorianError counts a historian read failure.
func IncHistorianError() {
	if historianErrors != nil {
		historianErrors.Inc()
	}
}

// SetOpenAlarms sets the open-alarm gauge.
func SetOpenAlarms(count int) {
	if openAlarms != nil {
		openAlarms.Set(float64(count))
	}
}
