// Package metrics exposes Prometheus counters for the assistant.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "assistant"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	intents           *prometheus.CounterVec
	results           *prometheus.CounterVec
	executions        *prometheus.CounterVec
	calendarReminders prometheus.Counter
	purged            prometheus.Counter
}

// New registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Messages classified, by intent.",
		}, []string{"intent"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Dispatcher results, by kind.",
		}, []string{"kind"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_executions_total",
			Help:      "Email and reminder executions, by work kind and outcome.",
		}, []string{"kind", "status"}),
		calendarReminders: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_reminders_sent_total",
			Help:      "Calendar event reminders delivered.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_purged_total",
			Help:      "Terminal work items removed by retention.",
		}),
	}
}

func (m *Metrics) IntentClassified(intent string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(intent).Inc()
}

func (m *Metrics) Result(kind string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(kind).Inc()
}

func (m *Metrics) Execution(kind, status string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) CalendarReminderSent() {
	if m == nil {
		return
	}
	m.calendarReminders.Inc()
}

func (m *Metrics) Purged(n int) {
	if m == nil {
		return
	}
	m.purged.Add(float64(n))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
