// Package pow solves the compute-bound proof-of-work challenge one
// upstream requires before accepting a completion request. The search runs
// on a dedicated worker pool so it never starves streaming I/O goroutines.
package pow

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/Davincible/chatgate/internal/provider"
)

// Challenge is the upstream-issued puzzle. A stale challenge must be
// discarded and re-fetched, never solved and submitted late.
type Challenge struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Signature  string `json:"signature"`
	Difficulty int    `json:"difficulty"`
	ExpireAt   int64  `json:"expire_at"`
	TargetPath string `json:"target_path"`
}

// Prefix is the fixed hash-input prefix derived from the challenge.
func (c Challenge) Prefix() string {
	return fmt.Sprintf("%s_%d_", c.Salt, c.ExpireAt)
}

// Expired reports whether the challenge is past its expire_at. ExpireAt is
// in milliseconds.
func (c Challenge) Expired(now time.Time) bool {
	return c.ExpireAt > 0 && now.UnixMilli() >= c.ExpireAt
}

// Solution echoes the challenge fields plus the computed answer. Found is
// false when the bounded search exhausted its budget; the upstream may
// still accept the request with answer 0, so that is a valid outcome.
type Solution struct {
	Challenge
	Answer int64 `json:"answer"`
	Found  bool  `json:"-"`
}

// maxIterations bounds the answer search per challenge.
const maxIterations = 5_000_000

type job struct {
	ctx    context.Context
	ch     Challenge
	result chan Solution
}

// Solver runs PoW searches on a fixed pool of worker goroutines.
type Solver struct {
	jobs chan job
	now  func() time.Time
}

func NewSolver(workers int) *Solver {
	if workers <= 0 {
		workers = 2
	}

	s := &Solver{
		jobs: make(chan job),
		now:  time.Now,
	}

	for i := 0; i < workers; i++ {
		go s.worker()
	}

	return s
}

func (s *Solver) worker() {
	for j := range s.jobs {
		j.result <- solve(j.ctx, j.ch)
	}
}

// Solve dispatches the search to a worker and waits for the result. An
// expired challenge is rejected before any search starts.
func (s *Solver) Solve(ctx context.Context, ch Challenge) (Solution, error) {
	if ch.Expired(s.now()) {
		return Solution{}, provider.ErrChallengeExpired
	}

	j := job{ctx: ctx, ch: ch, result: make(chan Solution, 1)}

	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return Solution{}, ctx.Err()
	}

	select {
	case sol := <-j.result:
		return sol, nil
	case <-ctx.Done():
		return Solution{}, ctx.Err()
	}
}

func solve(ctx context.Context, ch Challenge) Solution {
	prefix := ch.Prefix()

	for answer := int64(0); answer < maxIterations; answer++ {
		// Check cancellation periodically, not on every hash.
		if answer%65536 == 0 && ctx.Err() != nil {
			break
		}

		if Check(ch.Challenge, prefix, answer, ch.Difficulty) {
			return Solution{Challenge: ch, Answer: answer, Found: true}
		}
	}

	return Solution{Challenge: ch, Answer: 0, Found: false}
}

// Check evaluates the difficulty predicate: the sha3-256 digest of
// challenge+prefix+answer must start with `difficulty` zero hex nibbles.
func Check(challenge, prefix string, answer int64, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}

	digest := sha3.Sum256([]byte(challenge + prefix + strconv.FormatInt(answer, 10)))
	encoded := hex.EncodeToString(digest[:])

	if difficulty > len(encoded) {
		difficulty = len(encoded)
	}

	for i := 0; i < difficulty; i++ {
		if encoded[i] != '0' {
			return false
		}
	}

	return true
}
