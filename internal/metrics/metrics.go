// Package metrics exposes the prometheus collectors a StreamingContext
// updates as it moves through its lifecycle. Names and labels here are the
// concrete instantiation of spec.md's "opaque" metrics surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionState reports the current lifecycle state of a session, one
	// sample per session_id with value 1 for the active state row.
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nakadi_session_state",
			Help: "Current lifecycle state of a streaming session (1 = active row).",
		},
		[]string{"session_id", "state"},
	)

	// UncommittedPartitions tracks the size of the uncommitted-offsets map:
	// Streaming's while a session streams, ClosingState's while it closes.
	UncommittedPartitions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nakadi_uncommitted_partitions",
			Help: "Number of partitions a session has streamed past its last observed commit.",
		},
		[]string{"session_id"},
	)

	// ListenersActive tracks the number of per-partition offset listeners a
	// closing session currently holds open. Topology, session-list and
	// authorization watches are not counted.
	ListenersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nakadi_listeners_active",
			Help: "Number of offset listeners currently open for a closing session.",
		},
		[]string{"session_id"},
	)

	// ClosingDeadlineHitsTotal counts how often ClosingState's deadline task
	// fired and forced a release before every commit caught up.
	ClosingDeadlineHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nakadi_closing_deadline_hits_total",
			Help: "Number of times a session's closing deadline expired before all partitions committed.",
		},
		[]string{"session_id"},
	)
)

// Registry bundles the collectors above for one-time registration against a
// prometheus.Registerer, the way cuemby-warren's metrics package is wired
// into its HTTP server at startup.
type Registry struct {
	reg prometheus.Registerer
}

// NewRegistry registers all collectors against reg and returns a handle.
// Re-registering the same collectors against the same Registerer is
// idiomatically avoided by callers constructing exactly one Registry per
// process; duplicate-registration errors are discarded rather than
// panicking, since a session's metrics should never block its streaming.
func NewRegistry(reg prometheus.Registerer) *Registry {
	for _, c := range []prometheus.Collector{
		SessionState,
		UncommittedPartitions,
		ListenersActive,
		ClosingDeadlineHitsTotal,
	} {
		_ = reg.Register(c)
	}
	return &Registry{reg: reg}
}

// Session is a per-session view over the shared collectors above, pre-bound
// to a session id so state-machine code doesn't repeat label values.
type Session struct {
	id    string
	state string
}

// NewSession returns a Session-scoped metrics handle for sessionID.
func NewSession(sessionID string) *Session {
	return &Session{id: sessionID}
}

func (s *Session) SetState(state string) {
	if s.state != "" && s.state != state {
		SessionState.DeleteLabelValues(s.id, s.state)
	}
	s.state = state
	SessionState.WithLabelValues(s.id, state).Set(1)
}

func (s *Session) SetUncommittedPartitions(n int) {
	UncommittedPartitions.WithLabelValues(s.id).Set(float64(n))
}

func (s *Session) SetListenersActive(n int) {
	ListenersActive.WithLabelValues(s.id).Set(float64(n))
}

func (s *Session) IncClosingDeadlineHit() {
	ClosingDeadlineHitsTotal.WithLabelValues(s.id).Inc()
}
