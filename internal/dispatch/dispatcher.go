package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cisco-netmig/script-push-board/internal/config"
	"github.com/cisco-netmig/script-push-board/internal/events"
	"github.com/cisco-netmig/script-push-board/internal/job"
	"github.com/cisco-netmig/script-push-board/internal/log"
	"github.com/cisco-netmig/script-push-board/internal/session"
	"github.com/cisco-netmig/script-push-board/internal/sink"
)

var (
	// ErrInvalidBatch is returned by Submit for caller errors: an empty
	// batch or duplicate device targets. No jobs are created.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrUnknownBatch is returned for a handle the dispatcher has never
	// issued.
	ErrUnknownBatch = errors.New("unknown batch")
)

// Dispatcher runs push jobs against device sessions on a bounded pool.
type Dispatcher struct {
	cfg     *config.Config
	session session.Session
	sink    sink.StatusSink
	hub     *events.Hub
	logger  *slog.Logger

	mu       sync.Mutex
	batches  map[string]*batch
	rotation []string // handles with queued work, round-robin order
	rrNext   int

	slots  chan struct{} // one token per free worker slot
	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
	counters job.Counters
}

// batch is the dispatcher's bookkeeping for one submission. All fields are
// guarded by the dispatcher mutex; each job's fields are only ever written
// while that mutex is held.
type batch struct {
	id        string
	createdAt time.Time
	jobs      []*job.Job // submission order, immutable after Submit
	queued    []*job.Job // FIFO start queue
	aborted   bool
	abortCtx  context.Context
	abortFn   context.CancelFunc
	remaining int // jobs not yet terminal
}

// New creates a Dispatcher and starts its scheduling loop. Call Shutdown to
// stop it.
func New(cfg *config.Config, sess session.Session, snk sink.StatusSink, hub *events.Hub) *Dispatcher {
	poolSize := cfg.Dispatcher.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	d := &Dispatcher{
		cfg:     cfg,
		session: sess,
		sink:    snk,
		hub:     hub,
		logger:  log.WithComponent("dispatch"),
		batches: make(map[string]*batch),
		slots:   make(chan struct{}, poolSize),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < poolSize; i++ {
		d.slots <- struct{}{}
	}

	d.wg.Add(1)
	go d.scheduleLoop()
	return d
}

// Submit enqueues one batch of push jobs and returns its handle without
// waiting for any work to start. Specs with Selected unset are skipped.
// The batch is rejected with ErrInvalidBatch if no job remains after
// filtering or if two jobs name the same device: one device must never
// receive two concurrent pushes from the same batch.
func (d *Dispatcher) Submit(specs []job.Spec) (string, error) {
	selected := make([]job.Spec, 0, len(specs))
	for _, s := range specs {
		if s.Selected {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return "", fmt.Errorf("%w: no selected jobs", ErrInvalidBatch)
	}

	seen := make(map[string]bool, len(selected))
	for _, s := range selected {
		addr := s.Target.Addr()
		if seen[addr] {
			return "", fmt.Errorf("%w: duplicate device target %s", ErrInvalidBatch, addr)
		}
		seen[addr] = true
	}

	abortCtx, abortFn := context.WithCancel(context.Background())
	b := &batch{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		abortCtx:  abortCtx,
		abortFn:   abortFn,
		remaining: len(selected),
	}
	for _, s := range selected {
		j := &job.Job{
			ID:            uuid.NewString(),
			Target:        s.Target,
			Payload:       s.Payload,
			PayloadDigest: job.Fingerprint(s.Payload),
			Status:        job.StatusPending,
			CreatedAt:     b.createdAt,
		}
		b.jobs = append(b.jobs, j)
		b.queued = append(b.queued, j)
		d.counters.Add(job.StatusPending)
	}

	d.mu.Lock()
	d.batches[b.id] = b
	d.rotation = append(d.rotation, b.id)
	d.mu.Unlock()

	d.logger.Info("batch submitted", "batch_id", b.id, "jobs", len(b.jobs))
	d.kick()
	return b.id, nil
}

// Abort raises the batch's abort signal and returns once it is raised.
// Queued jobs are marked aborted immediately; running jobs are signalled
// through their session context but not waited for. Idempotent: a second
// call on the same handle is a no-op.
func (d *Dispatcher) Abort(handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.batches[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, handle)
	}
	if b.aborted {
		return nil
	}
	b.aborted = true
	b.abortFn()

	purged := b.queued
	b.queued = nil
	for _, j := range purged {
		d.transitionLocked(b, j, job.StatusAborted, "aborted while queued")
	}

	d.logger.Info("batch aborted", "batch_id", handle, "purged", len(purged))
	return nil
}

// Status returns a point-in-time copy of the batch. It reads bookkeeping
// state only and never waits on a worker.
func (d *Dispatcher) Status(handle string) (job.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.batches[handle]
	if !ok {
		return job.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownBatch, handle)
	}

	snap := job.Snapshot{
		BatchID:   b.id,
		CreatedAt: b.createdAt,
		Aborted:   b.aborted,
		Jobs:      make([]job.View, 0, len(b.jobs)),
	}
	for _, j := range b.jobs {
		snap.Jobs = append(snap.Jobs, job.View{
			ID:            j.ID,
			Device:        j.Target.String(),
			Status:        j.Status,
			ResultDetail:  j.ResultDetail,
			PayloadDigest: j.PayloadDigest,
			StartedAt:     j.StartedAt,
			CompletedAt:   j.CompletedAt,
		})
	}
	return snap, nil
}

// Events subscribes to the batch's status-change stream. The channel carries
// one event per transition from the moment of subscription (no history
// replay) and closes once every job in the batch is terminal. The returned
// cancel func releases the subscription early.
func (d *Dispatcher) Events(handle string) (<-chan events.StatusEvent, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.batches[handle]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownBatch, handle)
	}

	ch, cancel := d.hub.Subscribe(handle)
	if b.remaining == 0 {
		// Already finished; the stream ends immediately.
		d.hub.CloseBatch(handle)
	}
	return ch, cancel, nil
}

// Counters reports the dispatcher-wide status gauges.
func (d *Dispatcher) Counters() job.CounterSnapshot {
	return d.counters.Snapshot()
}

// Shutdown stops scheduling new jobs and waits for in-flight sessions to
// return, up to ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// kick nudges the scheduling loop; a pending nudge is enough.
func (d *Dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) scheduleLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
		}
		for d.dispatchOne() {
		}
	}
}

// dispatchOne claims a free worker slot and starts the next queued job on
// it. Returns false when no slot or no queued work is available.
func (d *Dispatcher) dispatchOne() bool {
	select {
	case <-d.slots:
	default:
		return false
	}

	d.mu.Lock()
	b, j := d.nextQueuedLocked()
	if j == nil {
		d.mu.Unlock()
		d.slots <- struct{}{}
		return false
	}
	d.transitionLocked(b, j, job.StatusRunning, "")
	ctx := b.abortCtx
	d.mu.Unlock()

	d.wg.Add(1)
	go d.runJob(ctx, b, j)
	return true
}

// nextQueuedLocked picks the next job round-robin across batches, FIFO
// within each batch. Batches with nothing queued fall out of the rotation.
func (d *Dispatcher) nextQueuedLocked() (*batch, *job.Job) {
	for len(d.rotation) > 0 {
		if d.rrNext >= len(d.rotation) {
			d.rrNext = 0
		}
		b := d.batches[d.rotation[d.rrNext]]
		if b == nil || len(b.queued) == 0 {
			d.rotation = append(d.rotation[:d.rrNext], d.rotation[d.rrNext+1:]...)
			continue
		}

		j := b.queued[0]
		b.queued = b.queued[1:]
		if len(b.queued) == 0 {
			d.rotation = append(d.rotation[:d.rrNext], d.rotation[d.rrNext+1:]...)
		} else {
			d.rrNext++
		}
		return b, j
	}
	return nil, nil
}

// runJob owns one job for the duration of its session call.
func (d *Dispatcher) runJob(ctx context.Context, b *batch, j *job.Job) {
	defer d.wg.Done()
	defer func() {
		d.slots <- struct{}{}
		d.kick()
	}()

	jobLogger := log.WithJob(j.ID).With("batch_id", b.id, "device", j.Target.String())

	// Abort may have been raised between scheduling and here.
	if ctx.Err() != nil {
		jobLogger.Info("job aborted before session start")
		d.complete(b, j, job.StatusAborted, "aborted before session start")
		return
	}

	jobLogger.Info("pushing configuration", "payload_digest", j.PayloadDigest)
	out, err := d.session.Push(ctx, j.Target, j.Payload)
	if err == nil {
		jobLogger.Info("push succeeded")
		d.complete(b, j, job.StatusSucceeded, strings.TrimSpace(out))
		return
	}

	switch session.KindOf(err) {
	case session.KindCancelled:
		jobLogger.Info("push aborted mid-flight")
		d.complete(b, j, job.StatusAborted, err.Error())
	default:
		jobLogger.Warn("push failed", "error", err)
		d.complete(b, j, job.StatusFailed, err.Error())
	}
}

func (d *Dispatcher) complete(b *batch, j *job.Job, to job.Status, detail string) {
	d.mu.Lock()
	d.transitionLocked(b, j, to, detail)
	d.mu.Unlock()
}

// transitionLocked advances a job, updates the gauges, publishes the event
// and, on terminal transitions, hands the record to the sink. Holding the
// mutex across the event publish and sink hand-off is what serializes both
// into transition order; neither call does I/O on this goroutine.
func (d *Dispatcher) transitionLocked(b *batch, j *job.Job, to job.Status, detail string) {
	from := j.Status
	j.Transition(to)
	d.counters.Apply(from, to)

	if to.Terminal() {
		j.ResultDetail = detail
		b.remaining--
	}

	d.hub.Publish(events.StatusEvent{
		BatchID: b.id,
		JobID:   j.ID,
		Device:  j.Target.String(),
		From:    from,
		To:      to,
		Detail:  detail,
	})

	if to.Terminal() {
		rec := sink.Record{
			JobID:         j.ID,
			BatchID:       b.id,
			Device:        j.Target.String(),
			Status:        to,
			PayloadDigest: j.PayloadDigest,
			ResultDetail:  detail,
			StartedAt:     j.StartedAt,
			CompletedAt:   *j.CompletedAt,
		}
		if err := d.sink.Record(context.Background(), rec); err != nil {
			d.logger.Error("sink hand-off failed", "job_id", j.ID, "error", err)
		}
		if b.remaining == 0 {
			d.hub.CloseBatch(b.id)
			d.logger.Info("batch finished", "batch_id", b.id)
		}
	}
}
