package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/config"
	"contextly-rewards/pkg/db/pagination"
	"contextly-rewards/pkg/errutil"
	"contextly-rewards/pkg/sequence"
	"contextly-rewards/services/queue"
	"contextly-rewards/services/reward"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatsRefresher schedules a background stats-cache refresh after a
// wallet's actions confirm on-chain.
type StatsRefresher interface {
	EnqueueRefresh(ctx context.Context, wallet string) error
}

// Processor drains the contribution queue in batches and settles each
// batch on-chain. A mutex keeps cycles strictly sequential: the ticker
// and the fast path can both request a run, but batches never overlap
// and nonces never interleave.
type Processor struct {
	db    *gorm.DB
	chain chain.Client
	seq   sequence.Sequencer
	stats StatsRefresher
	node  *snowflake.Node
	cfg   *config.Config

	mu sync.Mutex
}

type ProcessorParams struct {
	fx.In

	DB    *gorm.DB
	Chain chain.Client
	Seq   sequence.Sequencer
	Stats StatsRefresher
	Node  *snowflake.Node
	Cfg   *config.Config
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:    p.DB,
		chain: p.Chain,
		seq:   p.Seq,
		stats: p.Stats,
		node:  p.Node,
		cfg:   p.Cfg,
	}
}

// unit is one settlement transaction and the queue rows it covers.
// Most units carry a single action; coalesced message units carry
// several.
type unit struct {
	sub     chain.ActionSubmission
	actions []*queue.ContributionAction
}

// RunCycle fetches up to one batch of settleable actions and submits
// them. Returns the cycle summary; a chain outage before any
// submission leaves the batch untouched for the next cycle.
func (p *Processor) RunCycle(ctx context.Context) (CycleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res CycleResult

	batch, err := p.fetchBatch(ctx)
	if err != nil {
		return res, err
	}
	res.Fetched = len(batch)
	if len(batch) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(batch))
	for _, a := range batch {
		ids = append(ids, a.ActionID)
	}
	if err := p.db.WithContext(ctx).
		Model(&queue.ContributionAction{}).
		Where("action_id IN ?", ids).
		Update("status", queue.StatusProcessing).Error; err != nil {
		return res, err
	}

	units := p.buildUnits(batch)
	confirmedWallets := make(map[string]struct{})

	for i := range units {
		u := &units[i]

		nonce, err := p.seq.Next(ctx)
		if err != nil {
			// Nonce seeding needs the chain; nothing was submitted for
			// this unit, so put its rows back without burning a retry.
			zap.L().Error("[Settlement] nonce unavailable, deferring batch", zap.Error(err))
			p.restore(ctx, units[i:])
			return res, err
		}
		u.sub.Nonce = nonce

		submitCtx, cancel := context.WithTimeout(ctx, p.cfg.Chain.SubmitTimeout)
		txHash, err := p.chain.SubmitAction(submitCtx, u.sub)
		cancel()

		res.Submitted++

		if err != nil {
			p.seq.Invalidate()
			p.recordFailure(ctx, u, err, &res)
			continue
		}

		p.recordSuccess(ctx, u, txHash, &res)
		confirmedWallets[u.sub.Wallet.Hex()] = struct{}{}
	}

	for wallet := range confirmedWallets {
		if err := p.stats.EnqueueRefresh(ctx, wallet); err != nil {
			zap.L().Warn("[Settlement] failed to enqueue stats refresh",
				zap.String("wallet", wallet),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("[Settlement] cycle complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("failed", res.Failed),
		zap.Int("abandoned", res.Abandoned),
	)

	return res, nil
}

func (p *Processor) fetchBatch(ctx context.Context) ([]*queue.ContributionAction, error) {
	var batch []*queue.ContributionAction
	err := p.db.WithContext(ctx).
		Where("status IN ? AND retry_count < ?", queue.RetryableStatuses, p.cfg.Settlement.MaxRetries).
		Order("queued_at ASC").
		Limit(p.cfg.Settlement.BatchSize).
		Find(&batch).Error
	return batch, err
}

// buildUnits turns the batch into submissions, folding every MESSAGE
// action of one wallet into a single transaction. Other action types
// settle individually.
func (p *Processor) buildUnits(batch []*queue.ContributionAction) []unit {
	var units []unit
	messages := make(map[string][]*queue.ContributionAction)

	for _, a := range batch {
		if a.ActionType == reward.ActionMessage.String() {
			messages[a.Wallet] = append(messages[a.Wallet], a)
			continue
		}
		units = append(units, unit{
			sub: chain.ActionSubmission{
				Wallet:       common.HexToAddress(a.Wallet),
				ActionCode:   reward.ActionType(a.ActionType).Code(),
				BaseAmount:   a.BaseAmount,
				QualityScore: a.QualityScore,
				ActionID:     a.ActionID,
				ExtraData:    []byte(a.ExtraData),
			},
			actions: []*queue.ContributionAction{a},
		})
	}

	for wallet, group := range messages {
		var baseSum, qualitySum float64
		actionIDs := make([]string, 0, len(group))
		for _, a := range group {
			baseSum += a.BaseAmount
			qualitySum += a.QualityScore
			actionIDs = append(actionIDs, a.ActionID)
		}

		extra, _ := json.Marshal(map[string]interface{}{
			"coalesced":  len(group),
			"action_ids": actionIDs,
		})

		units = append(units, unit{
			sub: chain.ActionSubmission{
				Wallet:       common.HexToAddress(wallet),
				ActionCode:   reward.ActionMessage.Code(),
				BaseAmount:   baseSum,
				QualityScore: qualitySum / float64(len(group)),
				ActionID:     group[0].ActionID,
				ExtraData:    extra,
			},
			actions: group,
		})
	}

	return units
}

func (p *Processor) recordSuccess(ctx context.Context, u *unit, txHash string, res *CycleResult) {
	for _, a := range u.actions {
		err := p.db.WithContext(ctx).
			Model(&queue.ContributionAction{}).
			Where("action_id = ?", a.ActionID).
			Updates(map[string]interface{}{
				"status":     queue.StatusConfirmed,
				"tx_hash":    txHash,
				"last_error": "",
			}).Error
		if err != nil {
			zap.L().Error("[Settlement] failed to mark action confirmed",
				zap.String("action_id", a.ActionID),
				zap.Error(err),
			)
			continue
		}
		res.Confirmed++
	}

	zap.L().Info("[Settlement] actions settled",
		zap.String("tx_hash", txHash),
		zap.String("wallet", u.sub.Wallet.Hex()),
		zap.Int("actions", len(u.actions)),
		zap.Uint64("nonce", u.sub.Nonce),
	)
}

func (p *Processor) recordFailure(ctx context.Context, u *unit, submitErr error, res *CycleResult) {
	for _, a := range u.actions {
		retries := a.RetryCount + 1

		if retries >= p.cfg.Settlement.MaxRetries {
			p.abandon(ctx, a, retries, submitErr)
			res.Abandoned++
			continue
		}

		err := p.db.WithContext(ctx).
			Model(&queue.ContributionAction{}).
			Where("action_id = ?", a.ActionID).
			Updates(map[string]interface{}{
				"status":      queue.StatusFailedRetryable,
				"retry_count": retries,
				"last_error":  submitErr.Error(),
			}).Error
		if err != nil {
			zap.L().Error("[Settlement] failed to mark action for retry",
				zap.String("action_id", a.ActionID),
				zap.Error(err),
			)
			continue
		}
		res.Failed++

		zap.L().Warn("[Settlement] submission failed, will retry",
			zap.String("action_id", a.ActionID),
			zap.Int("retry_count", retries),
			zap.Error(submitErr),
		)
	}
}

func (p *Processor) abandon(ctx context.Context, a *queue.ContributionAction, retries int, submitErr error) {
	err := p.db.WithContext(ctx).
		Model(&queue.ContributionAction{}).
		Where("action_id = ?", a.ActionID).
		Updates(map[string]interface{}{
			"status":      queue.StatusAbandoned,
			"retry_count": retries,
			"last_error":  submitErr.Error(),
		}).Error
	if err != nil {
		zap.L().Error("[Settlement] failed to mark action abandoned",
			zap.String("action_id", a.ActionID),
			zap.Error(err),
		)
		return
	}

	rec := &Reconciliation{
		ID:         p.node.Generate(),
		ActionID:   a.ActionID,
		Wallet:     a.Wallet,
		ActionType: a.ActionType,
		BaseAmount: a.BaseAmount,
		RetryCount: retries,
		LastError:  submitErr.Error(),
	}
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		zap.L().Error("[Settlement] failed to write reconciliation record",
			zap.String("action_id", a.ActionID),
			zap.Error(err),
		)
	}

	zap.L().Error("[Settlement] action abandoned after retries",
		zap.String("action_id", a.ActionID),
		zap.String("wallet", a.Wallet),
		zap.Int("retry_count", retries),
		zap.Error(submitErr),
	)
}

// restore puts unsubmitted units back to their pre-cycle status.
func (p *Processor) restore(ctx context.Context, units []unit) {
	for _, u := range units {
		for _, a := range u.actions {
			err := p.db.WithContext(ctx).
				Model(&queue.ContributionAction{}).
				Where("action_id = ?", a.ActionID).
				Update("status", a.Status).Error
			if err != nil {
				zap.L().Error("[Settlement] failed to restore action status",
					zap.String("action_id", a.ActionID),
					zap.Error(err),
				)
			}
		}
	}
}

// PendingReconciliations lists unresolved abandoned actions, oldest
// first, one cursor page at a time.
func (p *Processor) PendingReconciliations(ctx context.Context, pg pagination.Pagination) ([]Reconciliation, pagination.PageInfo, error) {
	pg = pg.Normalize()

	q := p.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at ASC, id ASC").
		Limit(pg.Limit + 1)

	if pg.Cursor != "" {
		cursor, err := pagination.DecodeCursor(pg.Cursor)
		if err != nil {
			return nil, pagination.PageInfo{}, errutil.BadRequest("invalid cursor", err)
		}
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.PageInfo{}, errutil.BadRequest("invalid cursor", err)
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, errutil.BadRequest("invalid cursor", err)
		}
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after, after, id)
	}

	var out []Reconciliation
	if err := q.Find(&out).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	info, out := pagination.BuildCursorPageInfo(out, pg.Limit, func(r Reconciliation) pagination.Cursor {
		return pagination.Cursor{
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        r.ID.String(),
		}
	})

	return out, info, nil
}

// Resolve marks a reconciliation record handled.
func (p *Processor) Resolve(ctx context.Context, id snowflake.ID) error {
	return p.db.WithContext(ctx).
		Model(&Reconciliation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"resolved": true,
		}).Error
}
