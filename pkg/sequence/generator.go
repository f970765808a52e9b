package sequence

import (
	"context"
	"sync"

	"contextly-rewards/pkg/chain"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sequence",
	fx.Provide(NewNonceSequencer),
)

// Sequencer hands out transaction nonces for the single backend signer.
// All settlement transactions originate from one identity, so nonce
// allocation is the pipeline's tightest correctness constraint: every
// allocation goes through one mutex, and no caller ever reads-then-
// increments the counter on its own.
type Sequencer interface {
	// Next reserves the next nonce. The first call after a (re)seed
	// fetches the signer's pending nonce from the chain.
	Next(ctx context.Context) (uint64, error)
	// Invalidate forces a reseed on the following Next call. Used after
	// a submission failure, since the failed nonce may or may not have
	// been consumed by the node.
	Invalidate()
}

type NonceSequencer struct {
	chain chain.Client

	mu     sync.Mutex
	next   uint64
	seeded bool
}

type Params struct {
	fx.In

	Chain chain.Client
}

func NewNonceSequencer(p Params) Sequencer {
	return &NonceSequencer{chain: p.Chain}
}

func (s *NonceSequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		pending, err := s.chain.PendingNonce(ctx)
		if err != nil {
			return 0, err
		}
		s.next = pending
		s.seeded = true
		zap.L().Debug("[Sequence] seeded signer nonce", zap.Uint64("nonce", pending))
	}

	nonce := s.next
	s.next++
	return nonce, nil
}

func (s *NonceSequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = false
}
