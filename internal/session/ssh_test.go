package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cisco-netmig/script-push-board/internal/config"
	"github.com/cisco-netmig/script-push-board/internal/job"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Username: "netops",
		Password: "secret",
		Credentials: map[string]config.CredentialConfig{
			"lab": {Username: "labops", Password: "labsecret"},
		},
		Timeouts: config.TimeoutsConfig{
			Connect: 200 * time.Millisecond,
			Push:    time.Second,
		},
		Retry: config.RetryConfig{MaxAttempts: 1, BackoffBase: time.Millisecond},
	}
}

func TestResolveCredentialsDefault(t *testing.T) {
	s := NewSSH(testSessionConfig())

	cred, err := s.resolveCredentials(job.Target{Host: "sw1"})
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if cred.Username != "netops" || cred.Password != "secret" {
		t.Fatalf("default credentials = %+v", cred)
	}
}

func TestResolveCredentialsByRef(t *testing.T) {
	s := NewSSH(testSessionConfig())

	cred, err := s.resolveCredentials(job.Target{Host: "sw1", CredentialRef: "lab"})
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if cred.Username != "labops" {
		t.Fatalf("ref credentials = %+v", cred)
	}
}

func TestResolveCredentialsUnknownRef(t *testing.T) {
	s := NewSSH(testSessionConfig())

	_, err := s.resolveCredentials(job.Target{Host: "sw1", CredentialRef: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown credential_ref")
	}
	if KindOf(err) != KindTransport {
		t.Fatalf("kind = %s, want transport", KindOf(err))
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Fatalf("error %q does not name the bad ref", err)
	}
}

func TestResolveCredentialsNoneConfigured(t *testing.T) {
	s := NewSSH(config.SessionConfig{})

	_, err := s.resolveCredentials(job.Target{Host: "sw1"})
	if err == nil {
		t.Fatal("expected error with no credentials configured")
	}
}

func TestPushCancelledBeforeAttempt(t *testing.T) {
	s := NewSSH(testSessionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Push(ctx, job.Target{Host: "192.0.2.1"}, "hostname x")
	if err == nil {
		t.Fatal("expected error for pre-cancelled context")
	}
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %s, want cancelled", KindOf(err))
	}
}

func TestPushConnectFailureIsTransport(t *testing.T) {
	// TEST-NET-1 with a short connect timeout: nothing listens there.
	cfg := testSessionConfig()
	cfg.Timeouts.Connect = 100 * time.Millisecond
	s := NewSSH(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.Push(ctx, job.Target{Host: "192.0.2.1"}, "hostname x")
	if err == nil {
		t.Fatal("expected connect failure")
	}
	if KindOf(err) != KindTransport {
		t.Fatalf("kind = %s, want transport: %v", KindOf(err), err)
	}
}

func TestPushRetriesTransportFailures(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Timeouts.Connect = 50 * time.Millisecond
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BackoffBase = 10 * time.Millisecond
	s := NewSSH(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.Push(ctx, job.Target{Host: "192.0.2.1"}, "hostname x")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected failure against unreachable host")
	}
	// Three attempts with linear backoff of 10ms and 20ms between them.
	if elapsed < 30*time.Millisecond {
		t.Fatalf("returned after %v, too fast for 3 attempts with backoff", elapsed)
	}
}

func TestPushCancelDuringBackoff(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Timeouts.Connect = 50 * time.Millisecond
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BackoffBase = 10 * time.Second
	s := NewSSH(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.Push(ctx, job.Target{Host: "192.0.2.1"}, "hostname x")
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %s, want cancelled: %v", KindOf(err), err)
	}
	if elapsed := time.Since(start); elapsed >= 10*time.Second {
		t.Fatalf("cancel did not interrupt backoff, took %v", elapsed)
	}
}

func TestRejectedLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			"invalid input",
			"sw1(config)# hostnme sw1\n% Invalid input detected at '^' marker.\nsw1(config)#",
			"% Invalid input detected at '^' marker.",
		},
		{
			"incomplete command",
			"sw1(config)# ip route\n% Incomplete command.\n",
			"% Incomplete command.",
		},
		{
			"syntax error",
			"router> conf t\nsyntax error, expecting <command>\n",
			"syntax error, expecting <command>",
		},
		{
			"clean output",
			"sw1(config)# hostname sw1\nsw1(config)# end\nsw1# write memory\nBuilding configuration...\n[OK]",
			"",
		},
		{
			"empty output",
			"",
			"",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := rejectedLine(tc.output); got != tc.want {
				t.Fatalf("rejectedLine = %q, want %q", got, tc.want)
			}
		})
	}
}
