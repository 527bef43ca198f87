package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-search-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are updated from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{CrawlID: "c1", TS: now, State: progress.StateWaitForURL},
		{CrawlID: "c1", TS: now, State: progress.StateFetching, URL: "https://example.com/"},
		{
			CrawlID: "c1",
			TS:      now,
			State:   progress.StateParsing,
			URL:     "https://example.com/",
			Status:  200,
			Bytes:   1024,
			Dur:     200 * time.Millisecond,
		},
		{
			CrawlID: "c1",
			TS:      now,
			State:   progress.StateWaitForURL,
			URL:     "https://example.com/missing",
			Status:  404,
			Dur:     50 * time.Millisecond,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.transitions.WithLabelValues("WAIT_FOR_URL")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("FETCHING")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("PARSING")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.fetchDuration, "crawler_worker_fetch_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
