package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cisco-netmig/script-push-board/internal/job"
)

// StatusEvent is one job status transition.
type StatusEvent struct {
	Seq     int64      `json:"seq"`
	BatchID string     `json:"batch_id"`
	JobID   string     `json:"job_id"`
	Device  string     `json:"device"`
	From    job.Status `json:"from"`
	To      job.Status `json:"to"`
	Detail  string     `json:"detail,omitempty"`
	At      time.Time  `json:"at"`
}

// Hub is an in-memory pub/sub for status events.
//
// Buffering policy: each subscriber gets a bounded channel; when it is full
// the oldest buffered event is dropped to make room for the newest. Publish
// therefore never blocks, so a slow consumer can never stall a worker
// mid-push. A small ring buffer of recent events is kept for reconnecting
// stream clients; it is a resume aid, not a replay log.
type Hub struct {
	nextSeq atomic.Int64

	mu    sync.Mutex
	ring  []StatusEvent
	start int
	size  int

	subs      map[int]*subscriber
	nextSubID int
	subBuffer int
}

type subscriber struct {
	// batchID filters delivery; empty subscribes to every batch.
	batchID string
	ch      chan StatusEvent
	closed  bool
}

func NewHub(ringCapacity, subBuffer int) *Hub {
	if ringCapacity <= 0 {
		ringCapacity = 256
	}
	if subBuffer <= 0 {
		subBuffer = 256
	}
	return &Hub{
		ring:      make([]StatusEvent, ringCapacity),
		subs:      make(map[int]*subscriber),
		subBuffer: subBuffer,
	}
}

// Publish assigns the event a sequence number and fans it out. Never blocks.
func (h *Hub) Publish(ev StatusEvent) int64 {
	ev.Seq = h.nextSeq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, s := range h.subs {
		if s.closed || (s.batchID != "" && s.batchID != ev.BatchID) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Full: evict the oldest buffered event, then retry once.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
	h.mu.Unlock()
	return ev.Seq
}

// Subscribe registers a consumer for one batch's events, or for all batches
// when batchID is empty. A per-batch subscription ends (channel closed) when
// CloseBatch is called for that batch; events emitted before Subscribe are
// not replayed.
func (h *Hub) Subscribe(batchID string) (<-chan StatusEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	s := &subscriber{
		batchID: batchID,
		ch:      make(chan StatusEvent, h.subBuffer),
	}
	h.subs[id] = s

	cancel := func() {
		h.mu.Lock()
		if cur, ok := h.subs[id]; ok && !cur.closed {
			cur.closed = true
			delete(h.subs, id)
			close(cur.ch)
		}
		h.mu.Unlock()
	}

	return s.ch, cancel
}

// CloseBatch ends every subscription bound to the given batch. Buffered
// events remain readable until the closed channel drains.
func (h *Hub) CloseBatch(batchID string) {
	h.mu.Lock()
	for id, s := range h.subs {
		if s.batchID == batchID && !s.closed {
			s.closed = true
			delete(h.subs, id)
			close(s.ch)
		}
	}
	h.mu.Unlock()
}

// SnapshotSince returns buffered events with Seq > lastSeq, oldest-first.
// If lastSeq is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastSeq int64) []StatusEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]StatusEvent, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastSeq == 0 || ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev StatusEvent) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
