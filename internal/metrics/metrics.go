package metrics

import (
	"chatcore/internal/constants"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by the messaging core. A nil
// *Metrics is valid and records nothing, so components can take it optionally.
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	optimisticRollback prometheus.Counter
	reconciliations    *prometheus.CounterVec
	statusRejected     prometheus.Counter
	gatingRejections   prometheus.Counter
	pushEvents         *prometheus.CounterVec
	reconnects         *prometheus.CounterVec
	socketConnected    prometheus.Gauge
	urlRefreshes       *prometheus.CounterVec
	resyncs            prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = constants.DefaultMetricsNamespace
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages sent by the current user, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		optimisticRollback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic messages removed after a failed send.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Confirmed messages applied to the store, by source and result.",
		}, []string{"source", "result"}),
		statusRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_regressions_rejected_total",
			Help:      "Status pushes ignored because they would move a message backwards.",
		}),
		gatingRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gating_rejections_total",
			Help:      "Sends rejected locally by the acceptance policy.",
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Socket events received, by event name.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_reconnects_total",
			Help:      "Socket reconnect attempts, by outcome.",
		}, []string{"outcome"}),
		socketConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connected",
			Help:      "1 while the socket is connected.",
		}),
		urlRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_url_refreshes_total",
			Help:      "Signed URL refreshes, by outcome.",
		}, []string{"outcome"}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_resyncs_total",
			Help:      "First-page refetches after a failed delete.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.messagesSent,
			m.optimisticRollback,
			m.reconciliations,
			m.statusRejected,
			m.gatingRejections,
			m.pushEvents,
			m.reconnects,
			m.socketConnected,
			m.urlRefreshes,
			m.resyncs,
		)
	}
	return m
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) MessageSent(kind string, ok bool) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind, outcome(ok)).Inc()
}

func (m *Metrics) OptimisticRollback() {
	if m == nil {
		return
	}
	m.optimisticRollback.Inc()
}

// Reconciled records a confirmed message arriving from source ("http" or "push").
// Duplicates are the second delivery of an id already in the store.
func (m *Metrics) Reconciled(source string, duplicate bool) {
	if m == nil {
		return
	}
	result := "inserted"
	if duplicate {
		result = "duplicate"
	}
	m.reconciliations.WithLabelValues(source, result).Inc()
}

func (m *Metrics) StatusRegressionRejected() {
	if m == nil {
		return
	}
	m.statusRejected.Inc()
}

func (m *Metrics) GatingRejected() {
	if m == nil {
		return
	}
	m.gatingRejections.Inc()
}

func (m *Metrics) PushEvent(event string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ReconnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) SocketConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.socketConnected.Set(1)
	} else {
		m.socketConnected.Set(0)
	}
}

func (m *Metrics) URLRefresh(ok bool) {
	if m == nil {
		return
	}
	m.urlRefreshes.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) Resync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}
