package job

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status transition.
//
// Legal graph:
//
//	pending -> running
//	pending -> aborted (purged from queue on abort)
//	running -> succeeded | failed | aborted
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusAborted
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusAborted
	}
	return false
}

// Target identifies one device: where to connect and which credential set
// to use. CredentialRef names an entry in the session configuration; empty
// means the default credentials.
type Target struct {
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port,omitempty" json:"port,omitempty"`
	CredentialRef string `yaml:"credential_ref,omitempty" json:"credential_ref,omitempty"`
}

// Addr returns the dialable host:port, defaulting to port 22.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

func (t Target) String() string {
	return t.Addr()
}

// Spec is the submission form for one push: a device plus the configuration
// text destined for it. Selected mirrors the row checkbox in the board UI;
// unselected specs are skipped at submit.
type Spec struct {
	Target   Target
	Payload  string
	Selected bool
}

// Job is one unit of push work. The payload is immutable once created; the
// status and result fields are mutated exclusively by the worker that owns
// the job, and never after a terminal status is reached.
type Job struct {
	ID            string
	Target        Target
	Payload       string
	PayloadDigest string
	Status        Status
	ResultDetail  string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Transition advances the job status. An illegal transition is a dispatcher
// bug, never a recoverable condition, so it panics rather than being
// silently ignored.
func (j *Job) Transition(to Status) {
	if !CanTransition(j.Status, to) {
		panic(fmt.Sprintf("job %s: illegal status transition %s -> %s", j.ID, j.Status, to))
	}
	now := time.Now().UTC()
	switch to {
	case StatusRunning:
		j.StartedAt = &now
	case StatusSucceeded, StatusFailed, StatusAborted:
		j.CompletedAt = &now
	}
	j.Status = to
}

// Fingerprint returns the hex BLAKE3 digest of a payload. Recorded with
// every push so the history can prove which configuration text went out.
func Fingerprint(payload string) string {
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// View is a point-in-time copy of one job, safe to hand to observers.
type View struct {
	ID            string     `json:"id"`
	Device        string     `json:"device"`
	Status        Status     `json:"status"`
	ResultDetail  string     `json:"result_detail,omitempty"`
	PayloadDigest string     `json:"payload_digest"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is a point-in-time copy of a whole batch.
type Snapshot struct {
	BatchID   string    `json:"batch_id"`
	CreatedAt time.Time `json:"created_at"`
	Aborted   bool      `json:"aborted"`
	Jobs      []View    `json:"jobs"`
}

// Done reports whether every job in the snapshot is terminal.
func (s Snapshot) Done() bool {
	for _, v := range s.Jobs {
		if !v.Status.Terminal() {
			return false
		}
	}
	return true
}

// Count returns how many jobs in the snapshot hold the given status.
func (s Snapshot) Count(status Status) int {
	n := 0
	for _, v := range s.Jobs {
		if v.Status == status {
			n++
		}
	}
	return n
}
