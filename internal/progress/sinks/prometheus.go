package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-search-crawler/internal/progress"
)

// PrometheusSink counts worker transitions per state and observes fetch
// durations per status class.
type PrometheusSink struct {
	transitions   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchBytes    prometheus.Counter
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_transitions_total",
			Help: "Worker state entries, labeled by state.",
		}, []string{"state"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_worker_fetch_seconds",
			Help:    "Fetch time seen by workers, labeled by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
		}, []string{"status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_worker_fetch_bytes_total",
			Help: "Response bytes seen by workers.",
		}),
	}
	for _, c := range []prometheus.Collector{s.transitions, s.fetchDuration, s.fetchBytes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.transitions.WithLabelValues(string(evt.State)).Inc()
		if !evt.HasFetch() {
			continue
		}
		class := string(progress.ClassifyStatus(evt.Status))
		s.fetchDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
		if evt.Bytes > 0 {
			s.fetchBytes.Add(float64(evt.Bytes))
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
