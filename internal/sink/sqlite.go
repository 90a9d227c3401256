package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cisco-netmig/script-push-board/internal/log"
	"github.com/cisco-netmig/script-push-board/internal/storage"
)

// recordBuffer is how many terminal records the sink can hold before the
// hand-off applies back-pressure. Local sqlite writes clear it far faster
// than devices complete pushes.
const recordBuffer = 1024

// SQLiteSink appends one row to push_log per terminal job. Writes happen on
// a dedicated goroutine behind a buffered channel, so the dispatcher's
// hand-off never waits on disk.
type SQLiteSink struct {
	db     *sql.DB
	ch     chan Record
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewSQLite opens the push-log database at path and starts the writer.
func NewSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteSink{
		db:     db,
		ch:     make(chan Record, recordBuffer),
		logger: log.WithComponent("sink"),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Record queues one terminal record for persistence. Returns early when ctx
// is done; otherwise blocks only if the writer has fallen recordBuffer rows
// behind.
func (s *SQLiteSink) Record(ctx context.Context, rec Record) error {
	select {
	case s.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued records, flushes them to disk and closes the database.
func (s *SQLiteSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.ch) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("sink close: %w", ctx.Err())
	}
	return s.db.Close()
}

func (s *SQLiteSink) writeLoop() {
	defer s.wg.Done()
	for rec := range s.ch {
		if err := s.insert(rec); err != nil {
			s.logger.Error("failed to persist push record",
				"job_id", rec.JobID, "device", rec.Device, "error", err)
		}
	}
}

func (s *SQLiteSink) insert(rec Record) error {
	var startedAt any
	if rec.StartedAt != nil {
		startedAt = rec.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(`
INSERT INTO push_log(
  id, batch_id, device, status, payload_digest, result_detail, started_at, completed_at, recorded_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.JobID,
		rec.BatchID,
		rec.Device,
		string(rec.Status),
		rec.PayloadDigest,
		rec.ResultDetail,
		startedAt,
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert push_log: %w", err)
	}
	return nil
}
