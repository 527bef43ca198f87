package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/progress"
)

// LogSink writes every event at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger. A nil logger discards.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID),
			zap.Int("worker", evt.Worker),
			zap.String("state", string(evt.State)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.HasFetch() {
			fields = append(fields,
				zap.Int("status", evt.Status),
				zap.Int("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("worker transition", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
