package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report interview activity.
type Metrics struct {
	turnDuration      *prometheus.HistogramVec
	extractions       *prometheus.CounterVec
	clarifications    *prometheus.CounterVec
	completions       *prometheus.CounterVec
	safetyFlags       *prometheus.CounterVec
	turnFailures      *prometheus.CounterVec
	narrativeDuration *prometheus.HistogramVec
	narrativeFallback *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the orchestrator is instantiated
// multiple times (e.g. in unit tests or embedding hosts).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller is responsible for supplying a fresh registry when unique metric
// names are required (for example in tests). Any registration error will
// panic, which mirrors the semantics of promauto helpers and surfaces
// configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent handling one user turn, by active module.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"module"},
	)
	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "extractions_total",
			Help:      "Response extractions by winning method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	clarifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "clarifications_total",
			Help:      "Clarification re-asks issued, by module.",
		},
		[]string{"module"},
	)
	completions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "module_completions_total",
			Help:      "Modules finished, split by normal completion and early stop.",
		},
		[]string{"module", "outcome"},
	)
	safetyFlags := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "safety_flags_total",
			Help:      "Safety flags raised, by detection source.",
		},
		[]string{"source"},
	)
	turnFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "turn_failures_total",
			Help:      "Turns recovered from a module runner panic, by module.",
		},
		[]string{"module"},
	)
	narrativeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "narrative_duration_seconds",
			Help:      "Model latency for synthesis narratives, by module and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"module", "status"},
	)
	narrativeFallback := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "narrative_fallbacks_total",
			Help:      "Synthesis narratives served from the deterministic fallback.",
		},
		[]string{"module"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mira",
			Subsystem: "interview",
			Name:      "sessions_active",
			Help:      "Number of sessions currently held in memory.",
		},
	)

	collectors := []prometheus.Collector{
		turnDuration, extractions, clarifications, completions,
		safetyFlags, turnFailures, narrativeDuration, narrativeFallback,
		sessionsActive,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when it matches the expected type.
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					switch target { //nolint:exhaustive
					case turnDuration:
						turnDuration = already.ExistingCollector.(*prometheus.HistogramVec)
					case narrativeDuration:
						narrativeDuration = already.ExistingCollector.(*prometheus.HistogramVec)
					}
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case extractions:
						extractions = already.ExistingCollector.(*prometheus.CounterVec)
					case clarifications:
						clarifications = already.ExistingCollector.(*prometheus.CounterVec)
					case completions:
						completions = already.ExistingCollector.(*prometheus.CounterVec)
					case safetyFlags:
						safetyFlags = already.ExistingCollector.(*prometheus.CounterVec)
					case turnFailures:
						turnFailures = already.ExistingCollector.(*prometheus.CounterVec)
					case narrativeFallback:
						narrativeFallback = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					sessionsActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		turnDuration:      turnDuration,
		extractions:       extractions,
		clarifications:    clarifications,
		completions:       completions,
		safetyFlags:       safetyFlags,
		turnFailures:      turnFailures,
		narrativeDuration: narrativeDuration,
		narrativeFallback: narrativeFallback,
		sessionsActive:    sessionsActive,
	}
}

// ObserveTurn records the wall time of one handled user turn.
func (m *Metrics) ObserveTurn(module string, duration time.Duration) {
	if m == nil || m.turnDuration == nil {
		return
	}
	if module == "" {
		module = "none"
	}
	m.turnDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// IncExtraction counts one pipeline extraction by method and outcome.
func (m *Metrics) IncExtraction(method, outcome string) {
	if m == nil || m.extractions == nil {
		return
	}
	m.extractions.WithLabelValues(method, outcome).Inc()
}

// IncClarification counts one clarification re-ask for the given module.
func (m *Metrics) IncClarification(module string) {
	if m == nil || m.clarifications == nil {
		return
	}
	m.clarifications.WithLabelValues(module).Inc()
}

// ModuleCompleted counts a finished module, tagging early stops.
func (m *Metrics) ModuleCompleted(module string, earlyStop bool) {
	if m == nil || m.completions == nil {
		return
	}
	outcome := "completed"
	if earlyStop {
		outcome = "early_stop"
	}
	m.completions.WithLabelValues(module, outcome).Inc()
}

// IncSafetyFlag counts one raised safety flag by detection source.
func (m *Metrics) IncSafetyFlag(source string) {
	if m == nil || m.safetyFlags == nil {
		return
	}
	m.safetyFlags.WithLabelValues(source).Inc()
}

// IncTurnFailure counts a turn recovered from a runner panic.
func (m *Metrics) IncTurnFailure(module string) {
	if m == nil || m.turnFailures == nil {
		return
	}
	if module == "" {
		module = "none"
	}
	m.turnFailures.WithLabelValues(module).Inc()
}

// ObserveSynthesis records one synthesis model call with its status.
func (m *Metrics) ObserveSynthesis(module string, duration time.Duration, err error) {
	if m == nil || m.narrativeDuration == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.narrativeDuration.WithLabelValues(module, status).Observe(duration.Seconds())
}

// IncSynthesisFallback counts a narrative served from the deterministic path.
func (m *Metrics) IncSynthesisFallback(module string) {
	if m == nil || m.narrativeFallback == nil {
		return
	}
	m.narrativeFallback.WithLabelValues(module).Inc()
}

// SessionStarted marks a session as held in memory.
func (m *Metrics) SessionStarted() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionEnded marks a session as completed or evicted.
func (m *Metrics) SessionEnded() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Dec()
}
