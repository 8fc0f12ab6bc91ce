package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stop reasons recorded by the session controller.
const (
	StopVAD         = "vad"
	StopManual      = "manual"
	StopMaxDuration = "max_duration"
	StopCancel      = "cancel"
)

// Metrics holds the session counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	Stops             *prometheus.CounterVec
	WakeMisses        prometheus.Counter
	Responses         prometheus.Counter
	TransportErrors   *prometheus.CounterVec
	TransportDuration prometheus.Histogram
	RecordedSeconds   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "nova_sessions_started_total",
			Help: "Total number of listening sessions started",
		}),
		Stops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_session_stops_total",
			Help: "Listening sessions stopped, by reason",
		}, []string{"reason"}),
		WakeMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "nova_wake_misses_total",
			Help: "Responses discarded because the wake phrase was absent",
		}),
		Responses: f.NewCounter(prometheus.CounterOpts{
			Name: "nova_responses_total",
			Help: "Responses surfaced to observers",
		}),
		TransportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_transport_errors_total",
			Help: "Failed round trips, by error kind",
		}, []string{"kind"}),
		TransportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_transport_duration_seconds",
			Help:    "Round trip time of the transcription service",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RecordedSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_recorded_seconds",
			Help:    "Length of captured utterances",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) Stopped(reason string, recorded time.Duration) {
	if m == nil {
		return
	}
	m.Stops.WithLabelValues(reason).Inc()
	m.RecordedSeconds.Observe(recorded.Seconds())
}

func (m *Metrics) WakeMiss() {
	if m == nil {
		return
	}
	m.WakeMisses.Inc()
}

func (m *Metrics) Response(took time.Duration) {
	if m == nil {
		return
	}
	m.Responses.Inc()
	m.TransportDuration.Observe(took.Seconds())
}

func (m *Metrics) TransportError(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(kind).Inc()
	m.TransportDuration.Observe(took.Seconds())
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
