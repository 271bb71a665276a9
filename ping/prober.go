package ping

import (
	"context"
	"errors"
	"time"

	"github.com/yamori310/craftdock/runtime"
)

var (
	// ErrCrashed means the container exited while the prober was still
	// waiting for the service to come up. Further polling cannot succeed.
	ErrCrashed = errors.New("container exited during startup")

	// ErrStartupTimeout means the ceiling elapsed without a successful
	// status response.
	ErrStartupTimeout = errors.New("startup timeout")
)

// ContainerInspector reports the live container state during polling.
type ContainerInspector interface {
	Inspect(ctx context.Context, id string) (runtime.Status, error)
}

// Prober polls the status endpoint until the service is usable, the
// container dies, the ceiling elapses, or the context is cancelled.
type Prober struct {
	Client   StatusClient
	Runtime  ContainerInspector
	Interval time.Duration
	Timeout  time.Duration
}

func NewProber(client StatusClient, rt ContainerInspector, interval, timeout time.Duration) *Prober {
	return &Prober{Client: client, Runtime: rt, Interval: interval, Timeout: timeout}
}

// WaitReady blocks until one of the four outcomes. Cancellation through ctx
// is observed before every poll, so a Stop issued mid-initialization cannot
// be overtaken by a late success.
func (p *Prober) WaitReady(ctx context.Context, addr, containerID string) (*Status, error) {
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(p.Interval)
	defer tick.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, err := p.Runtime.Inspect(ctx, containerID)
		if err == nil && state != runtime.StatusRunning {
			return nil, ErrCrashed
		}
		// A transient inspect failure is not a crash; keep polling.

		status, pingErr := p.Client.Ping(ctx, addr)
		if pingErr == nil {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrStartupTimeout
		case <-tick.C:
		}
	}
}
