package accrual

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"contextly-rewards/pkg/errutil"
	"contextly-rewards/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store is the counter backend. The production implementation is the
// shared redis client; tests swap in a function-field mock.
type Store interface {
	HIncrByFloat(ctx context.Context, key, field string, incr float64) error
	HSet(ctx context.Context, key string, values ...interface{}) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type redisStore struct {
	rdb *redis.Client
}

func (s *redisStore) HIncrByFloat(ctx context.Context, key, field string, incr float64) error {
	return s.rdb.HIncrByFloat(ctx, key, field, incr).Err()
}

func (s *redisStore) HSet(ctx context.Context, key string, values ...interface{}) error {
	return s.rdb.HSet(ctx, key, values...).Err()
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// Service keeps the off-chain accrual counters. Writes go to redis;
// when redis is unreachable the increments land in an in-process
// fallback map and are flushed on the next successful call.
type Service struct {
	store Store

	mu       sync.Mutex
	fallback map[string]map[string]float64
}

type ServiceParams struct {
	fx.In

	Redis *redis.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:    &redisStore{rdb: p.Redis},
		fallback: make(map[string]map[string]float64),
	}
}

// Accrue adds amount to the wallet's total, platform, role and current
// day buckets. Called synchronously at event ingestion; never fails the
// caller, a counter-store outage degrades to the in-process fallback.
func (s *Service) Accrue(ctx context.Context, wallet, platform, role string, amount float64, tokenCount int64) error {
	day := time.Now().UTC().Format(dayLayout)
	deltas := map[string]float64{
		fieldTotal:                     amount,
		fieldContributions:             float64(tokenCount),
		platformFieldPrefix + platform: amount,
		roleFieldPrefix + role:         amount,
		dayFieldPrefix + day:           amount,
	}

	s.flushFallback(ctx)

	if err := s.apply(ctx, wallet, deltas); err != nil {
		zap.L().Warn("accrual store unavailable, buffering in-process",
			zap.String("wallet", wallet),
			zap.Float64("amount", amount),
			zap.Error(err),
		)
		s.buffer(wallet, deltas)
	}

	return nil
}

// GetAccrual returns the wallet's accrual record, merging any buffered
// fallback increments not yet flushed to the store.
func (s *Service) GetAccrual(ctx context.Context, wallet string) (*AccrualRecord, error) {
	key := rediskey.BuildAccrualKey(wallet)

	fields, err := s.store.HGetAll(ctx, key)
	if err != nil {
		s.mu.Lock()
		buffered, ok := s.fallback[wallet]
		s.mu.Unlock()
		if !ok {
			return nil, errutil.Unavailable("accrual store unreachable", err)
		}
		zap.L().Warn("serving accrual from in-process fallback", zap.String("wallet", wallet))
		return s.recordFromFields(wallet, nil, buffered), nil
	}

	s.mu.Lock()
	buffered := s.fallback[wallet]
	s.mu.Unlock()

	return s.recordFromFields(wallet, fields, buffered), nil
}

func (s *Service) apply(ctx context.Context, wallet string, deltas map[string]float64) error {
	key := rediskey.BuildAccrualKey(wallet)

	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		if err := s.store.HIncrByFloat(ctx, key, field, delta); err != nil {
			return err
		}
	}

	return s.store.HSet(ctx, key, fieldLastUpdate, time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *Service) buffer(wallet string, deltas map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffered, ok := s.fallback[wallet]
	if !ok {
		buffered = make(map[string]float64)
		s.fallback[wallet] = buffered
	}
	for field, delta := range deltas {
		buffered[field] += delta
	}
}

func (s *Service) flushFallback(ctx context.Context) {
	s.mu.Lock()
	if len(s.fallback) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.fallback
	s.fallback = make(map[string]map[string]float64)
	s.mu.Unlock()

	for wallet, deltas := range pending {
		if err := s.apply(ctx, wallet, deltas); err != nil {
			s.buffer(wallet, deltas)
			return
		}
		zap.L().Info("flushed buffered accruals", zap.String("wallet", wallet))
	}
}

func (s *Service) recordFromFields(wallet string, fields map[string]string, buffered map[string]float64) *AccrualRecord {
	rec := &AccrualRecord{
		Wallet:     wallet,
		ByPlatform: make(map[string]float64),
		ByRole:     make(map[string]float64),
		Daily:      make(map[string]float64),
	}

	for field, raw := range fields {
		if field == fieldLastUpdate {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				rec.LastUpdate = ts
			}
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		rec.addField(field, value)
	}

	for field, delta := range buffered {
		rec.addField(field, delta)
	}

	return rec
}

func (r *AccrualRecord) addField(field string, value float64) {
	switch {
	case field == fieldTotal:
		r.TotalTokens += value
	case field == fieldContributions:
		r.Contributions += int64(value)
	case strings.HasPrefix(field, platformFieldPrefix):
		r.ByPlatform[strings.TrimPrefix(field, platformFieldPrefix)] += value
	case strings.HasPrefix(field, roleFieldPrefix):
		r.ByRole[strings.TrimPrefix(field, roleFieldPrefix)] += value
	case strings.HasPrefix(field, dayFieldPrefix):
		r.Daily[strings.TrimPrefix(field, dayFieldPrefix)] += value
	}
}
