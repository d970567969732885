package session

import (
	"context"
	"sync"
)

// Chains serializes units of work per fingerprint: strict FIFO, no
// concurrency within one fingerprint, full concurrency across
// fingerprints. A failed unit settles its chain slot like a successful
// one, so errors never poison subsequent units.
type Chains struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewChains() *Chains {
	return &Chains{tails: make(map[string]chan struct{})}
}

// Do enqueues fn on the fingerprint's chain and runs it once the previous
// unit has fully settled. If ctx is cancelled while waiting, fn never runs
// and the chain slot settles on its own once the predecessor does.
func (c *Chains) Do(ctx context.Context, fingerprint string, fn func() error) error {
	c.mu.Lock()
	prev := c.tails[fingerprint]
	done := make(chan struct{})
	c.tails[fingerprint] = done
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Settle our slot after the predecessor finishes so waiters
			// behind us are released in order.
			go func() {
				<-prev
				close(done)
			}()

			return ctx.Err()
		}
	}

	defer close(done)

	return fn()
}
