// Package metrics defines the Prometheus collectors of the server
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rgs"

// Label names
const (
	LabelGameID   = "game_id"
	LabelGameType = "game_type"
	LabelResult   = "result"
	LabelKind     = "kind"
	LabelMethod   = "method"
	LabelRoute    = "route"
	LabelStatus   = "status"
)

// Round results
const (
	ResultWin  = "win"
	ResultLoss = "loss"
)

var (
	roundLatencyBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}
	httpLatencyBuckets  = prometheus.DefBuckets
)

// Metrics holds every collector, registered on one registry
type Metrics struct {
	RoundsTotal        *prometheus.CounterVec
	RoundErrors        *prometheus.CounterVec
	RoundDuration      *prometheus.HistogramVec
	Wagered            *prometheus.CounterVec
	Paid               *prometheus.CounterVec
	JackpotsWon        *prometheus.CounterVec
	FreeSpinsUsed      *prometheus.CounterVec
	SettlementFailures prometheus.Counter
	RoundLogFailures   prometheus.Counter
	SessionsClosed     prometheus.Counter
	GrantsExpired      prometheus.Counter

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	WebsocketClients     prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RoundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Settled game rounds",
		}, []string{LabelGameID, LabelGameType, LabelResult}),
		RoundErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_errors_total",
			Help:      "Rejected or failed rounds by error kind",
		}, []string{LabelGameID, LabelKind}),
		RoundDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time to play and settle one round",
			Buckets:   roundLatencyBuckets,
		}, []string{LabelGameType}),
		Wagered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wagered_total",
			Help:      "Amount debited by settled rounds",
		}, []string{LabelGameID}),
		Paid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_total",
			Help:      "Amount credited by settled rounds",
		}, []string{LabelGameID}),
		JackpotsWon: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jackpots_won_total",
			Help:      "Progressive jackpots paid",
		}, []string{LabelGameID}),
		FreeSpinsUsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "free_spins_used_total",
			Help:      "Rounds paid for by a free-spin grant",
		}, []string{LabelGameID}),
		SettlementFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_failures_total",
			Help:      "Settlements rolled back",
		}),
		RoundLogFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_log_failures_total",
			Help:      "Settled rounds whose record could not be stored",
		}),
		SessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_stale_total",
			Help:      "Sessions closed by the janitor",
		}),
		GrantsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "free_spin_grants_expired_total",
			Help:      "Free-spin grants deactivated by the janitor",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{LabelMethod, LabelRoute, LabelStatus}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   httpLatencyBuckets,
		}, []string{LabelMethod, LabelRoute}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served",
		}),
		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected live round feed clients",
		}),
	}
}
