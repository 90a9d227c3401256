package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cisco-netmig/script-push-board/internal/config"
	"github.com/cisco-netmig/script-push-board/internal/job"
	"github.com/cisco-netmig/script-push-board/internal/log"
)

// commandErrorMarkers are output fragments that mean the device parsed the
// connection fine but rejected a configuration line.
var commandErrorMarkers = []string{
	"% Invalid input",
	"% Incomplete command",
	"% Ambiguous command",
	"syntax error",
	"Unknown command",
}

// SSHSession pushes configuration over SSH, optionally through a jumphost.
type SSHSession struct {
	cfg    config.SessionConfig
	logger *slog.Logger
}

// NewSSH creates an SSH-backed device session using the given configuration.
func NewSSH(cfg config.SessionConfig) *SSHSession {
	return &SSHSession{
		cfg:    cfg,
		logger: log.WithComponent("session"),
	}
}

// Push connects to the target and sends the payload line by line. Transport
// failures are retried up to the configured attempt budget with linear
// backoff; command rejections and cancellation are never retried.
func (s *SSHSession) Push(ctx context.Context, target job.Target, payload string) (string, error) {
	creds, err := s.resolveCredentials(target)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", CancelledErr("push cancelled before attempt " + fmt.Sprint(attempt))
		}

		out, err := s.pushOnce(ctx, target, creds, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err

		kind := KindOf(err)
		if kind != KindTransport || attempt == s.cfg.Retry.MaxAttempts {
			return out, err
		}

		backoff := time.Duration(attempt) * s.cfg.Retry.BackoffBase
		s.logger.Warn("push attempt failed, retrying",
			"device", target.String(), "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", CancelledErr("push cancelled during retry backoff")
		case <-timer.C:
		}
	}
	return "", lastErr
}

func (s *SSHSession) resolveCredentials(target job.Target) (config.CredentialConfig, error) {
	if target.CredentialRef != "" {
		cred, ok := s.cfg.Credentials[target.CredentialRef]
		if !ok {
			return config.CredentialConfig{}, TransportErr(
				fmt.Sprintf("unknown credential_ref %q for %s", target.CredentialRef, target), nil)
		}
		return cred, nil
	}
	if s.cfg.Username == "" {
		return config.CredentialConfig{}, TransportErr("no session credentials configured", nil)
	}
	return config.CredentialConfig{Username: s.cfg.Username, Password: s.cfg.Password}, nil
}

// pushOnce performs a single connect-push-disconnect cycle bounded by the
// configured push timeout.
func (s *SSHSession) pushOnce(ctx context.Context, target job.Target, creds config.CredentialConfig, payload string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Push)
	defer cancel()

	client, err := s.dial(ctx, target, creds)
	if err != nil {
		return "", err
	}
	defer client.Close()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.sendConfig(client, payload)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		// Closing the client unblocks the session I/O; the goroutine exits
		// on its own once the transport is gone.
		client.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", TransportErr(fmt.Sprintf("push to %s timed out after %s", target, s.cfg.Timeouts.Push), ctx.Err())
		}
		return "", CancelledErr("push to " + target.String() + " cancelled mid-flight")
	case r := <-done:
		return r.out, r.err
	}
}

// dial establishes the SSH client, hopping through the jumphost when one is
// configured. The TCP connect phase honors ctx; the SSH handshake is bounded
// by the connect timeout.
func (s *SSHSession) dial(ctx context.Context, target job.Target, creds config.CredentialConfig) (*ssh.Client, error) {
	clientCfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.Timeouts.Connect,
	}

	var raw net.Conn
	var err error
	if jh := s.cfg.Jumphost; jh != nil {
		raw, err = s.dialViaJumphost(ctx, jh, target)
	} else {
		d := net.Dialer{Timeout: s.cfg.Timeouts.Connect}
		raw, err = d.DialContext(ctx, "tcp", target.Addr())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, CancelledErr("dial to " + target.String() + " cancelled")
		}
		return nil, TransportErr("connect to "+target.String(), err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, target.Addr(), clientCfg)
	if err != nil {
		raw.Close()
		return nil, TransportErr("ssh handshake with "+target.String(), err)
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func (s *SSHSession) dialViaJumphost(ctx context.Context, jh *config.JumphostConfig, target job.Target) (net.Conn, error) {
	port := jh.Port
	if port == 0 {
		port = 22
	}
	jumpAddr := fmt.Sprintf("%s:%d", jh.Host, port)

	jumpCfg := &ssh.ClientConfig{
		User:            jh.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(jh.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.Timeouts.Connect,
	}

	d := net.Dialer{Timeout: s.cfg.Timeouts.Connect}
	raw, err := d.DialContext(ctx, "tcp", jumpAddr)
	if err != nil {
		return nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(raw, jumpAddr, jumpCfg)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("jumphost handshake %s: %w", jumpAddr, err)
	}
	jump := ssh.NewClient(conn, chans, reqs)

	inner, err := jump.Dial("tcp", target.Addr())
	if err != nil {
		jump.Close()
		return nil, fmt.Errorf("jumphost dial %s: %w", target, err)
	}
	return inner, nil
}

// sendConfig feeds the payload to an interactive shell on the device and
// collects the combined output.
func (s *SSHSession) sendConfig(client *ssh.Client, payload string) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", TransportErr("open ssh session", err)
	}
	defer sess.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
		return "", TransportErr("request pty", err)
	}

	var in bytes.Buffer
	in.WriteString(strings.TrimRight(payload, "\n"))
	in.WriteString("\n")
	if s.cfg.SaveConfig {
		in.WriteString(s.cfg.SaveCommand)
		in.WriteString("\n")
	}
	in.WriteString("exit\n")
	sess.Stdin = &in

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	err = sess.Run("")
	output := out.String()

	if marker := rejectedLine(output); marker != "" {
		return output, CommandErr("device rejected configuration: "+marker, nil)
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return output, CommandErr(fmt.Sprintf("device shell exited with status %d", exitErr.ExitStatus()), err)
		}
		return output, TransportErr("session terminated", err)
	}
	return output, nil
}

// rejectedLine returns the first output line carrying a device error marker,
// or empty if none.
func rejectedLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		for _, marker := range commandErrorMarkers {
			if strings.Contains(line, marker) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}
