package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/errutil"
	"contextly-rewards/pkg/util"
	"contextly-rewards/services/accrual"
	"contextly-rewards/services/reward"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPlatform = "extension"

// Base amounts fed into estimation for the convenience entry points.
const (
	journeyBaseAmount     = 50
	referralBaseAmount    = 100
	checkinBaseAmount     = 5
	achievementBaseAmount = 25
)

// Estimator computes the advisory reward shown to the caller at queue
// time.
type Estimator interface {
	Estimate(ctx context.Context, actionType reward.ActionType, baseAmount, qualityScore float64) reward.Estimate
}

// Accruer moves the off-chain earned counters when an action is
// accepted.
type Accruer interface {
	Accrue(ctx context.Context, wallet, platform, role string, amount float64, tokenCount int64) error
}

// Service is the write side of the reward pipeline: it validates and
// deduplicates contribution events, persists them for batch settlement,
// and credits the off-chain accrual counters immediately.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	est      Estimator
	accruer  Accruer
	fastPath FastPath
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Est      Estimator
	Accruer  Accruer
	FastPath FastPath
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		est:      p.Est,
		accruer:  p.Accruer,
		fastPath: p.FastPath,
	}
}

// QueueAction accepts a contribution event. Replays inside the same
// idempotency bucket return already_processed without a second row, a
// second accrual or a second settlement.
func (s *Service) QueueAction(ctx context.Context, event ContributionEvent) (*QueueResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	spanID := span.SpanContext().SpanID().String()

	opts := []zap.Field{
		zap.String("trace_id", traceID),
		zap.String("span_id", spanID),
	}

	if !chain.IsValidAddress(event.Wallet) {
		return nil, errutil.ValidationFailed("invalid wallet address", nil)
	}
	if !event.ActionType.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown action type %q", event.ActionType), nil)
	}
	if event.QualityScore < 0 || event.QualityScore > 1 {
		return nil, errutil.ValidationFailed("quality_score must be within [0, 1]", nil)
	}

	wallet := chain.ChecksumAddress(event.Wallet)
	actionID := DeriveActionID(wallet, event.ActionType, time.Now())

	var existing ContributionAction
	err := s.db.WithContext(ctx).First(&existing, "action_id = ?", actionID).Error
	if err == nil {
		zap.L().With(opts...).Info("duplicate action ignored",
			zap.String("action_id", actionID),
			zap.String("action_type", event.ActionType.String()),
		)
		return s.result(ctx, ResultAlreadyProcessed, actionID, 0, false), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().With(opts...).Error("failed to check action queue", zap.Error(err))
		return nil, errutil.Internal("failed to check action queue", err)
	}

	est := s.est.Estimate(ctx, event.ActionType, event.BaseAmount, event.QualityScore)

	extra := datatypes.JSON("{}")
	if event.ExtraData != nil {
		raw, err := json.Marshal(event.ExtraData)
		if err != nil {
			return nil, errutil.BadRequest("extra_data is not serializable", err)
		}
		extra = datatypes.JSON(raw)
	}

	action := &ContributionAction{
		ActionID:     actionID,
		Wallet:       wallet,
		ActionType:   event.ActionType.String(),
		BaseAmount:   event.BaseAmount,
		QualityScore: event.QualityScore,
		ExtraData:    extra,
		Status:       StatusPending,
	}

	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		// A concurrent request inside the same bucket can win the insert
		// race; treat its row as ours.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.result(ctx, ResultAlreadyProcessed, actionID, 0, false), nil
		}
		zap.L().With(opts...).Error("failed to enqueue action", zap.Error(err))
		return nil, errutil.Internal("failed to enqueue action", err)
	}

	platform := event.Platform
	if platform == "" {
		platform = defaultPlatform
	}
	if err := s.accruer.Accrue(ctx, wallet, platform, accrual.RoleContributor, est.Amount, 1); err != nil {
		zap.L().With(opts...).Warn("accrual update failed", zap.Error(err))
	}

	select {
	case s.fastPath <- actionID:
	default:
		zap.L().With(opts...).Debug("fast path buffer full, action waits for next poll",
			zap.String("action_id", actionID),
		)
	}

	zap.L().With(opts...).Info("action queued",
		zap.String("action_id", actionID),
		zap.String("wallet", wallet),
		zap.String("action_type", event.ActionType.String()),
		zap.Float64("estimated_reward", est.Amount),
	)

	return s.result(ctx, ResultQueued, actionID, est.Amount, est.Provisional), nil
}

// ProcessJourney queues a completed browsing journey and returns the
// generated journey id alongside the queue acknowledgement.
func (s *Service) ProcessJourney(ctx context.Context, in JourneyInput) (*JourneyResult, error) {
	journeyID := fmt.Sprintf("journey_%s_%d", in.SessionID, time.Now().Unix())

	res, err := s.QueueAction(ctx, ContributionEvent{
		Wallet:       in.Wallet,
		ActionType:   reward.ActionJourney,
		BaseAmount:   journeyBaseAmount,
		QualityScore: in.QualityScore,
		ExtraData: map[string]interface{}{
			"journey_id":       journeyID,
			"session_id":       in.SessionID,
			"category":         in.Category,
			"duration_seconds": in.DurationSeconds,
			"screenshot_count": in.ScreenshotCount,
			"patterns":         in.Patterns,
		},
	})
	if err != nil {
		return nil, err
	}

	return &JourneyResult{QueueResult: *res, JourneyID: journeyID}, nil
}

// RecordReferral registers the referrer/referee pair and queues the
// referrer's reward. A wallet can only be referred once.
func (s *Service) RecordReferral(ctx context.Context, referrer, referee, code string) (*QueueResult, error) {
	if !chain.IsValidAddress(referrer) || !chain.IsValidAddress(referee) {
		return nil, errutil.ValidationFailed("invalid wallet address", nil)
	}
	referrer = chain.ChecksumAddress(referrer)
	referee = chain.ChecksumAddress(referee)
	if referrer == referee {
		return nil, errutil.ValidationFailed("self-referral is not allowed", nil)
	}

	var existing Referral
	err := s.db.WithContext(ctx).First(&existing, "referee = ?", referee).Error
	if err == nil {
		return nil, errutil.Conflict("wallet has already been referred", nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.Internal("failed to check referral", err)
	}

	if code == "" {
		code = util.GenerateReferralCode()
	}

	referral := &Referral{
		ID:       s.node.Generate(),
		Referrer: referrer,
		Referee:  referee,
		Code:     code,
	}
	if err := s.db.WithContext(ctx).Create(referral).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("wallet has already been referred", nil)
		}
		return nil, errutil.Internal("failed to record referral", err)
	}

	return s.QueueAction(ctx, ContributionEvent{
		Wallet:       referrer,
		ActionType:   reward.ActionReferral,
		BaseAmount:   referralBaseAmount,
		QualityScore: 0,
		ExtraData: map[string]interface{}{
			"referee": referee,
			"code":    code,
		},
	})
}

// ProcessDailyCheckin queues the wallet's daily check-in. The day-wide
// idempotency bucket makes the second call of the day a no-op.
func (s *Service) ProcessDailyCheckin(ctx context.Context, wallet string) (*QueueResult, error) {
	return s.QueueAction(ctx, ContributionEvent{
		Wallet:     wallet,
		ActionType: reward.ActionDailyCheckin,
		BaseAmount: checkinBaseAmount,
	})
}

// GrantAchievement queues an achievement unlock for the wallet.
func (s *Service) GrantAchievement(ctx context.Context, wallet, achievementID string, bonus float64) (*QueueResult, error) {
	baseAmount := bonus
	if baseAmount <= 0 {
		baseAmount = achievementBaseAmount
	}

	return s.QueueAction(ctx, ContributionEvent{
		Wallet:     wallet,
		ActionType: reward.ActionAchievement,
		BaseAmount: baseAmount,
		ExtraData: map[string]interface{}{
			"achievement_id": achievementID,
		},
	})
}

// PendingCount reports how many actions still await settlement.
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	var depth int64
	err := s.db.WithContext(ctx).
		Model(&ContributionAction{}).
		Where("status IN ?", RetryableStatuses).
		Count(&depth).Error
	if err != nil {
		return 0, errutil.Internal("failed to count pending actions", err)
	}
	return depth, nil
}

func (s *Service) result(ctx context.Context, status, actionID string, estimated float64, provisional bool) *QueueResult {
	depth, err := s.PendingCount(ctx)
	if err != nil {
		zap.L().Warn("failed to read queue depth", zap.Error(err))
	}

	return &QueueResult{
		Status:          status,
		ActionID:        actionID,
		EstimatedReward: estimated,
		Provisional:     provisional,
		QueueDepth:      depth,
	}
}
