package session

import (
	"context"

	"github.com/cisco-netmig/script-push-board/internal/job"
)

//go:generate mockgen -destination=mocks/mock_session.go -package=mocks github.com/cisco-netmig/script-push-board/internal/session Session

// Session opens a connection to one device and pushes a configuration
// payload. Implementations must honor ctx cancellation promptly: if ctx is
// done before the underlying network operation completes, Push returns a
// cancelled-kind error rather than blocking until a transport timeout.
// Implementations may retry internally but must return within a bounded
// time even on transport failure.
type Session interface {
	Push(ctx context.Context, target job.Target, payload string) (output string, err error)
}
