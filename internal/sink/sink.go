package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/cisco-netmig/script-push-board/internal/job"
)

// Record is the final state of one job, handed off exactly once when the
// job reaches a terminal status.
type Record struct {
	JobID         string
	BatchID       string
	Device        string
	Status        job.Status
	PayloadDigest string
	ResultDetail  string
	StartedAt     *time.Time
	CompletedAt   time.Time
}

// StatusSink consumes terminal job records. Implementations must accept
// records in the order the transitions occurred and must not block the
// caller for the duration of their own I/O; buffering inside the sink is
// the expected shape. Record may be called concurrently with Close only
// until Close returns.
type StatusSink interface {
	Record(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// LogSink writes each terminal record to the structured log. Used by the
// one-shot CLI mode where no durable history is wanted.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Record(_ context.Context, rec Record) error {
	s.Logger.Info("push finished",
		"batch_id", rec.BatchID,
		"job_id", rec.JobID,
		"device", rec.Device,
		"status", rec.Status,
		"detail", rec.ResultDetail,
	)
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
