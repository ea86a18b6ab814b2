package entity

import (
	"context"
	"sync"
	"time"
)

// Pairing carries the two outcome signals of an order: filled and failed.
// Exactly one of the two is expected to resolve per order. Both notify
// methods are idempotent and monotonic; once a flag is set it never
// unsets. Callers block on Wait until either flag resolves.
type Pairing struct {
	mu     sync.Mutex
	filled chan struct{}
	failed chan struct{}
}

func NewPairing() *Pairing {
	return &Pairing{
		filled: make(chan struct{}),
		failed: make(chan struct{}),
	}
}

func (p *Pairing) NotifyFilled() {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.filled:
	default:
		close(p.filled)
	}
}

func (p *Pairing) NotifyFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.failed:
	default:
		close(p.failed)
	}
}

func (p *Pairing) IsPairFilled() bool {
	select {
	case <-p.filled:
		return true
	default:
		return false
	}
}

func (p *Pairing) IsPairFailed() bool {
	select {
	case <-p.failed:
		return true
	default:
		return false
	}
}

// Wait blocks until the order is filled or failed, the timeout elapses, or
// ctx is canceled. A zero timeout waits without a deadline.
func (p *Pairing) Wait(ctx context.Context, timeout time.Duration) (filled bool, failed bool) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.filled:
	case <-p.failed:
	case <-timer:
	case <-ctx.Done():
	}

	return p.IsPairFilled(), p.IsPairFailed()
}
