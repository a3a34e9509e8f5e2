package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/event"
)

const namespace = "quizbattle"

// Metrics counts the battle lifecycle from the events of the bus.
type Metrics struct {
	started   prometheus.Counter
	finished  prometheus.Counter
	abandoned *prometheus.CounterVec
	answers   *prometheus.CounterVec
	rounds    prometheus.Histogram
}

// Gauges are sampled at scrape time.
type Gauges struct {
	Sessions    func() int
	Waiting     func() int
	Connections func() int
}

func NewMetrics(reg prometheus.Registerer, eb *event.Bus, g Gauges) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of battle sessions started.",
		}),
		finished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Number of battle sessions played until the last round.",
		}),
		abandoned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_abandoned_total",
			Help:      "Number of battle sessions abandoned, by reason.",
		}, []string{"reason"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Number of answers accepted, by correctness.",
		}, []string{"correct"}),
		rounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_rounds",
			Help:      "Number of rounds of finished sessions.",
			Buckets:   []float64{1, 3, 5, 10, 20, 50},
		}),
	}

	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	gauge("sessions_active", "Number of sessions in progress on this instance.", g.Sessions)
	gauge("matchmaking_waiting", "Number of participants waiting for an opponent.", g.Waiting)
	gauge("connections", "Number of connections attached to this instance.", g.Connections)

	eb.Subscribe(domain.EventNameSessionStarted, m.observe)
	eb.Subscribe(domain.EventNameRoundResolved, m.observe)
	eb.Subscribe(domain.EventNameSessionFinished, m.observe)
	eb.Subscribe(domain.EventNameSessionAbandoned, m.observe)

	return m
}

func (m *Metrics) observe(_ context.Context, e event.Event) error {
	switch e := e.(type) {
	case domain.EventSessionStarted:
		m.started.Inc()
	case domain.EventRoundResolved:
		m.answers.WithLabelValues(strconv.FormatBool(e.Result.Correct)).Inc()
	case domain.EventSessionFinished:
		m.finished.Inc()
		m.rounds.Observe(float64(len(e.Session.Questions)))
	case domain.EventSessionAbandoned:
		m.abandoned.WithLabelValues(e.Reason).Inc()
	}

	return nil
}
