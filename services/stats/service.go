package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/config"
	"contextly-rewards/pkg/errutil"
	"contextly-rewards/pkg/rediskey"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Cache is the stats snapshot store. The production implementation is
// the shared redis client.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisCache struct {
	rdb *redis.Client
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Service serves wallet stats read-through: fresh cache hit, then
// chain, then the long-lived stale copy when the chain is down. The
// chain remains the source of truth; the cache only shields it from
// per-request reads.
type Service struct {
	chain chain.Client
	cache Cache

	ttl         time.Duration
	staleTTL    time.Duration
	readTimeout time.Duration
}

type ServiceParams struct {
	fx.In

	Chain chain.Client
	Redis *redis.Client
	Cfg   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		chain:       p.Chain,
		cache:       &redisCache{rdb: p.Redis},
		ttl:         p.Cfg.Stats.TTL,
		staleTTL:    p.Cfg.Stats.StaleTTL,
		readTimeout: p.Cfg.Stats.ReadTimeout,
	}
}

// GetUserStats returns the wallet's stats snapshot. Two reads inside
// the freshness window cost a single chain read.
func (s *Service) GetUserStats(ctx context.Context, wallet string) (*UserStats, error) {
	if !chain.IsValidAddress(wallet) {
		return nil, errutil.ValidationFailed("invalid wallet address", nil)
	}
	wallet = chain.ChecksumAddress(wallet)

	if cached, ok := s.getCached(ctx, rediskey.BuildStatsKey(wallet)); ok {
		return cached, nil
	}

	snapshot, err := s.Refresh(ctx, wallet)
	if err == nil {
		return snapshot, nil
	}

	zap.L().Warn("chain stats read failed, trying stale copy",
		zap.String("wallet", wallet),
		zap.Error(err),
	)

	if stale, ok := s.getCached(ctx, rediskey.BuildStaleStatsKey(wallet)); ok {
		stale.Stale = true
		return stale, nil
	}

	return nil, errutil.Unavailable("stats unavailable", err)
}

// Refresh reads the wallet's stats from the chain and rewrites both
// cache entries. Used by GetUserStats on a miss and by the background
// refresh task after settlement.
func (s *Service) Refresh(ctx context.Context, wallet string) (*UserStats, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	ledger, err := s.chain.ReadUserStats(readCtx, common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}

	snapshot := &UserStats{
		WalletAddress:    wallet,
		Balance:          ledger.Balance,
		TotalEarned:      ledger.TotalEarned,
		TotalWords:       ledger.TotalWords,
		TotalCharacters:  ledger.TotalCharacters,
		QualityScore:     ledger.QualityScore,
		LastActive:       ledger.LastActive,
		ContributionDays: ledger.ContributionDays,
		CurrentStreak:    ledger.CurrentStreak,
		LongestStreak:    ledger.LongestStreak,
		JourneyCount:     ledger.JourneyCount,
		ReferralCount:    ledger.ReferralCount,
		ReferralEarnings: ledger.ReferralEarnings,
		CachedAt:         time.Now().UTC(),
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, errutil.Internal("failed to encode stats snapshot", err)
	}

	if err := s.cache.Set(ctx, rediskey.BuildStatsKey(wallet), string(raw), s.ttl); err != nil {
		zap.L().Warn("failed to cache stats snapshot", zap.String("wallet", wallet), zap.Error(err))
	}
	if err := s.cache.Set(ctx, rediskey.BuildStaleStatsKey(wallet), string(raw), s.staleTTL); err != nil {
		zap.L().Warn("failed to cache stale stats snapshot", zap.String("wallet", wallet), zap.Error(err))
	}

	return snapshot, nil
}

func (s *Service) getCached(ctx context.Context, key string) (*UserStats, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var snapshot UserStats
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		zap.L().Warn("corrupt stats cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return &snapshot, true
}
