package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco-netmig/script-push-board/internal/dispatch"
	"github.com/cisco-netmig/script-push-board/internal/events"
	"github.com/cisco-netmig/script-push-board/internal/job"
	"github.com/cisco-netmig/script-push-board/internal/log"
)

// stubBatches is a canned BatchService for handler tests.
type stubBatches struct {
	submitHandle string
	submitErr    error
	abortErr     error
	statusSnap   job.Snapshot
	statusErr    error

	lastSpecs  []job.Spec
	lastHandle string
}

func (s *stubBatches) Submit(specs []job.Spec) (string, error) {
	s.lastSpecs = specs
	return s.submitHandle, s.submitErr
}

func (s *stubBatches) Abort(handle string) error {
	s.lastHandle = handle
	return s.abortErr
}

func (s *stubBatches) Status(handle string) (job.Snapshot, error) {
	s.lastHandle = handle
	return s.statusSnap, s.statusErr
}

func (s *stubBatches) Counters() job.CounterSnapshot {
	return job.CounterSnapshot{Pending: 1, Running: 2}
}

func newTestServer(t *testing.T, batches *stubBatches, hub *events.Hub, apiKey string) *httptest.Server {
	t.Helper()
	if hub == nil {
		hub = events.NewHub(64, 64)
	}
	s := New(Config{Listen: "127.0.0.1:0", APIKey: apiKey}, batches, hub, log.WithComponent("api"))
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubBatches{}, nil, "secret")

	// No auth required.
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.EqualValues(t, 1, body.Counters.Pending)
	assert.EqualValues(t, 2, body.Counters.Running)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, &stubBatches{submitHandle: "b-1"}, nil, "secret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"correct token", "Bearer secret", http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/batches",
				strings.NewReader(`{"jobs":[{"target":{"host":"sw1"},"payload":"hostname sw1"}]}`))
			require.NoError(t, err)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAuthOpenWithoutKey(t *testing.T) {
	stub := &stubBatches{statusSnap: job.Snapshot{BatchID: "b-1"}}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Get(ts.URL + "/api/v1/batches/b-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitBatch(t *testing.T) {
	stub := &stubBatches{submitHandle: "b-42"}
	ts := newTestServer(t, stub, nil, "")

	body := `{"jobs":[
  {"target":{"host":"sw1"},"payload":"hostname sw1"},
  {"target":{"host":"sw2","port":2222,"credential_ref":"lab"},"payload":"hostname sw2","selected":false}
]}`
	resp, err := http.Post(ts.URL+"/api/v1/batches", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "b-42", out.BatchID)
	assert.Equal(t, 2, out.Jobs)

	require.Len(t, stub.lastSpecs, 2)
	assert.Equal(t, "sw1", stub.lastSpecs[0].Target.Host)
	assert.True(t, stub.lastSpecs[0].Selected, "selected defaults to true")
	assert.Equal(t, 2222, stub.lastSpecs[1].Target.Port)
	assert.Equal(t, "lab", stub.lastSpecs[1].Target.CredentialRef)
	assert.False(t, stub.lastSpecs[1].Selected)
}

func TestSubmitBatchInvalid(t *testing.T) {
	stub := &stubBatches{submitErr: fmt.Errorf("%w: duplicate device target", dispatch.ErrInvalidBatch)}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/batches", "application/json",
		strings.NewReader(`{"jobs":[{"target":{"host":"sw1"},"payload":"x"},{"target":{"host":"sw1"},"payload":"x"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSubmitBatchBadJSON(t *testing.T) {
	ts := newTestServer(t, &stubBatches{}, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/batches", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchStatus(t *testing.T) {
	stub := &stubBatches{statusSnap: job.Snapshot{
		BatchID: "b-7",
		Jobs: []job.View{
			{ID: "j-1", Device: "sw1:22", Status: job.StatusSucceeded},
		},
	}}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Get(ts.URL + "/api/v1/batches/b-7")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap job.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "b-7", snap.BatchID)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, job.StatusSucceeded, snap.Jobs[0].Status)
	assert.Equal(t, "b-7", stub.lastHandle)
}

func TestBatchStatusNotFound(t *testing.T) {
	stub := &stubBatches{statusErr: fmt.Errorf("%w: nope", dispatch.ErrUnknownBatch)}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Get(ts.URL + "/api/v1/batches/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAbortBatch(t *testing.T) {
	stub := &stubBatches{}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/batches/b-9/abort", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "b-9", stub.lastHandle)
}

func TestAbortBatchNotFound(t *testing.T) {
	stub := &stubBatches{abortErr: fmt.Errorf("%w: nope", dispatch.ErrUnknownBatch)}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Post(ts.URL+"/api/v1/batches/nope/abort", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub(64, 64)
	ts := newTestServer(t, &stubBatches{}, hub, "")

	// Published before the client connects; the ring replay delivers them.
	hub.Publish(events.StatusEvent{
		BatchID: "b-other", JobID: "j-x", Device: "sw9:22",
		From: job.StatusPending, To: job.StatusRunning,
	})
	hub.Publish(events.StatusEvent{
		BatchID: "b-1", JobID: "j-1", Device: "sw1:22",
		From: job.StatusPending, To: job.StatusRunning,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?batch=b-1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			dataLine = after
			break
		}
	}
	require.NotEmpty(t, dataLine, "no SSE data frame received")

	var ev events.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "b-1", ev.BatchID, "batch filter leaked another batch's event")
	assert.Equal(t, job.StatusRunning, ev.To)
}

func TestEventsStreamResume(t *testing.T) {
	hub := events.NewHub(64, 64)
	ts := newTestServer(t, &stubBatches{}, hub, "")

	// Events published before the client connects.
	for i := 0; i < 3; i++ {
		hub.Publish(events.StatusEvent{
			BatchID: "b-1", JobID: fmt.Sprintf("j-%d", i), Device: "sw1:22",
			From: job.StatusPending, To: job.StatusRunning,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The buffered tail after seq 1 arrives first: seqs 2 and 3.
	scanner := bufio.NewScanner(resp.Body)
	var ids []string
	for scanner.Scan() && len(ids) < 2 {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "id: "); ok {
			ids = append(ids, after)
		}
	}
	require.Equal(t, []string{"2", "3"}, ids)
}

func TestRequestLoggingDoesNotBreakResponses(t *testing.T) {
	// The logging middleware wraps the writer; make sure bodies survive it.
	stub := &stubBatches{statusSnap: job.Snapshot{BatchID: "b-1"}}
	ts := newTestServer(t, stub, nil, "")

	resp, err := http.Get(ts.URL + "/api/v1/batches/b-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"batch_id":"b-1"`)
}
