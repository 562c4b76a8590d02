package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. Every method is safe on
// a nil receiver so components can run without metrics in tests.
type Metrics struct {
	MemberNumbersAllocated prometheus.Counter
	TxRetries              *prometheus.CounterVec
	PromotionTransitions   *prometheus.CounterVec
	EvidenceRecorded       *prometheus.CounterVec
	AttendanceVerdicts     *prometheus.CounterVec
	FinalApprovals         *prometheus.CounterVec
	EventsConsumed         *prometheus.CounterVec
	OutboxRelayed          prometheus.Counter
	RedisErrors            *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MemberNumbersAllocated: f.NewCounter(prometheus.CounterOpts{
			Name: "keystone_member_numbers_allocated_total",
			Help: "Total number of member numbers assigned",
		}),
		TxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_tx_retries_total",
			Help: "Transactions retried after a serialization failure, by operation",
		}, []string{"operation"}),
		PromotionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_promotion_transitions_total",
			Help: "Promotion application transitions by name",
		}, []string{"transition"}),
		EvidenceRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_evidence_recorded_total",
			Help: "Evidence events recorded by kind and whether they qualified",
		}, []string{"kind", "qualifying"}),
		AttendanceVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_attendance_verdicts_total",
			Help: "Attendance resolutions served by resolved method",
		}, []string{"method"}),
		FinalApprovals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_final_approvals_total",
			Help: "Explicit final approvals set by decision",
		}, []string{"decision"}),
		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_events_consumed_total",
			Help: "Inbound evidence events by type and outcome",
		}, []string{"type", "outcome"}),
		OutboxRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "keystone_outbox_relayed_total",
			Help: "Audit outbox rows published to Kafka",
		}),
		RedisErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_redis_errors_total",
			Help: "Failed Redis commands by command name",
		}, []string{"command"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keystone_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) IncrementMemberNumbersAllocated() {
	if m != nil {
		m.MemberNumbersAllocated.Inc()
	}
}

func (m *Metrics) IncrementTxRetry(operation string) {
	if m != nil {
		m.TxRetries.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementPromotionTransition(transition string) {
	if m != nil {
		m.PromotionTransitions.WithLabelValues(transition).Inc()
	}
}

func (m *Metrics) IncrementEvidence(kind string, qualifying bool) {
	if m != nil {
		q := "false"
		if qualifying {
			q = "true"
		}
		m.EvidenceRecorded.WithLabelValues(kind, q).Inc()
	}
}

func (m *Metrics) IncrementAttendanceVerdict(method string) {
	if m != nil {
		m.AttendanceVerdicts.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) IncrementFinalApproval(decision string) {
	if m != nil {
		m.FinalApprovals.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncrementEventConsumed(eventType, outcome string) {
	if m != nil {
		m.EventsConsumed.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) AddOutboxRelayed(n int) {
	if m != nil {
		m.OutboxRelayed.Add(float64(n))
	}
}

func (m *Metrics) IncrementRedisError(command string) {
	if m != nil {
		m.RedisErrors.WithLabelValues(command).Inc()
	}
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
	}
}
