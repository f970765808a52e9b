package reward

import (
	"context"
	"sync"
	"time"

	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service estimates rewards from the ledger-published per-type
// configuration. Pure with respect to its inputs and the current
// configuration snapshot; the snapshot is cached briefly so estimation
// never hits the chain per call.
type Service struct {
	chain chain.Client
	ttl   time.Duration

	mu    sync.Mutex
	cache map[ActionType]configSnapshot
}

type configSnapshot struct {
	cfg       chain.ActionConfig
	fetchedAt time.Time
}

type ServiceParams struct {
	fx.In

	Chain chain.Client
	Cfg   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		chain: p.Chain,
		ttl:   p.Cfg.Rewards.ConfigTTL,
		cache: make(map[ActionType]configSnapshot),
	}
}

// Estimate computes base_reward * multiplier * (1 + quality_score) for
// the action type. When the configuration is unreachable it degrades to
// base_amount * (1 + quality_score) and flags the result provisional.
func (s *Service) Estimate(ctx context.Context, actionType ActionType, baseAmount, qualityScore float64) Estimate {
	cfg, err := s.actionConfig(ctx, actionType)
	if err != nil {
		zap.L().Warn("reward config unavailable, using fallback estimate",
			zap.String("action_type", actionType.String()),
			zap.Error(err),
		)
		return Estimate{
			Amount:      baseAmount * (1 + qualityScore),
			Provisional: true,
		}
	}

	return Estimate{
		Amount: cfg.BaseReward * cfg.Multiplier * (1 + qualityScore),
	}
}

func (s *Service) actionConfig(ctx context.Context, actionType ActionType) (chain.ActionConfig, error) {
	s.mu.Lock()
	snap, ok := s.cache[actionType]
	s.mu.Unlock()

	if ok && time.Since(snap.fetchedAt) < s.ttl {
		return snap.cfg, nil
	}

	cfg, err := s.chain.ReadActionConfig(ctx, actionType.Code())
	if err != nil {
		return chain.ActionConfig{}, err
	}

	s.mu.Lock()
	s.cache[actionType] = configSnapshot{cfg: cfg, fetchedAt: time.Now()}
	s.mu.Unlock()

	return cfg, nil
}
