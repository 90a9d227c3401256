package api

import "github.com/cisco-netmig/script-push-board/internal/job"

// SubmitRequest is the body of POST /api/v1/batches.
type SubmitRequest struct {
	Jobs []SubmitJob `json:"jobs"`
}

// SubmitJob is one device/payload pair. Selected defaults to true over the
// API; the board UI is where deselection happens.
type SubmitJob struct {
	Target   job.Target `json:"target"`
	Payload  string     `json:"payload"`
	Selected *bool      `json:"selected,omitempty"`
}

// SubmitResponse carries the batch handle.
type SubmitResponse struct {
	BatchID string `json:"batch_id"`
	Jobs    int    `json:"jobs"`
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Counters      job.CounterSnapshot `json:"counters"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
