package audit

import (
	"context"
	"log/slog"
	"time"
)

// Record is an event as delivered to a Sink.
type Record struct {
	StreamID   string
	Type       string
	UserID     int64
	ClientHash string
	OccurredAt time.Time
}

// Sink stores batches of audit records. Implementations must tolerate the
// same StreamID being delivered more than once.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a Sink backed by logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

// Write logs every record at info level.
func (s *LogSink) Write(ctx context.Context, records []Record) error {
	for _, r := range records {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event",
			slog.String("stream_id", r.StreamID),
			slog.String("type", r.Type),
			slog.Int64("user_id", r.UserID),
			slog.String("client_hash", r.ClientHash),
			slog.Time("occurred_at", r.OccurredAt),
		)
	}
	return nil
}

// MultiSink writes every batch to each sink in order and stops at the
// first failure.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, records []Record) error {
	for _, s := range m {
		if err := s.Write(ctx, records); err != nil {
			return err
		}
	}
	return nil
}
