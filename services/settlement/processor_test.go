package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"contextly-rewards/pkg/chain"
	"contextly-rewards/pkg/config"
	"contextly-rewards/pkg/db/pagination"
	"contextly-rewards/pkg/sequence"
	"contextly-rewards/services/queue"
	"contextly-rewards/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
)

type chainMock struct {
	pendingNonceFn func(ctx context.Context) (uint64, error)
	submitActionFn func(ctx context.Context, sub chain.ActionSubmission) (string, error)
}

func (m *chainMock) SignerAddress() common.Address {
	return common.Address{}
}

func (m *chainMock) PendingNonce(ctx context.Context) (uint64, error) {
	if m.pendingNonceFn != nil {
		return m.pendingNonceFn(ctx)
	}
	return 100, nil
}

func (m *chainMock) ReadActionConfig(ctx context.Context, actionCode uint8) (chain.ActionConfig, error) {
	return chain.ActionConfig{}, nil
}

func (m *chainMock) ReadBalance(ctx context.Context, wallet common.Address) (float64, error) {
	return 0, nil
}

func (m *chainMock) ReadUserStats(ctx context.Context, wallet common.Address) (chain.UserLedgerStats, error) {
	return chain.UserLedgerStats{}, nil
}

func (m *chainMock) SubmitAction(ctx context.Context, sub chain.ActionSubmission) (string, error) {
	if m.submitActionFn != nil {
		return m.submitActionFn(ctx, sub)
	}
	return "0xhash", nil
}

type refresherMock struct {
	wallets []string
}

func (m *refresherMock) EnqueueRefresh(ctx context.Context, wallet string) error {
	m.wallets = append(m.wallets, wallet)
	return nil
}

func newTestProcessor(t *testing.T, cm *chainMock) (*Processor, *gorm.DB, *refresherMock) {
	t.Helper()

	db := testutil.NewTestDB(t, &queue.ContributionAction{}, &Reconciliation{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.BatchSize = 50
	cfg.Settlement.MaxRetries = 3
	cfg.Chain.SubmitTimeout = time.Second

	refresher := &refresherMock{}

	return &Processor{
		db:    db,
		chain: cm,
		seq:   sequence.NewNonceSequencer(sequence.Params{Chain: cm}),
		stats: refresher,
		node:  node,
		cfg:   cfg,
	}, db, refresher
}

func seedAction(t *testing.T, db *gorm.DB, id, wallet, actionType string, status queue.Status, retries int, age time.Duration) {
	t.Helper()

	err := db.Create(&queue.ContributionAction{
		ActionID:     id,
		QueuedAt:     time.Now().Add(-age),
		Wallet:       wallet,
		ActionType:   actionType,
		BaseAmount:   10,
		QualityScore: 0.5,
		ExtraData:    []byte("{}"),
		Status:       status,
		RetryCount:   retries,
	}).Error
	require.NoError(t, err)
}

func loadAction(t *testing.T, db *gorm.DB, id string) queue.ContributionAction {
	t.Helper()

	var row queue.ContributionAction
	require.NoError(t, db.First(&row, "action_id = ?", id).Error)
	return row
}

func TestCycleConfirmsPendingActions(t *testing.T) {
	cm := &chainMock{}
	proc, db, refresher := newTestProcessor(t, cm)

	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusPending, 0, 2*time.Minute)
	seedAction(t, db, "a2", walletB, "DAILY_CHECKIN", queue.StatusPending, 0, time.Minute)

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)
	require.Equal(t, 2, res.Confirmed)

	for _, id := range []string{"a1", "a2"} {
		row := loadAction(t, db, id)
		require.Equal(t, queue.StatusConfirmed, row.Status)
		require.Equal(t, "0xhash", row.TxHash)
	}

	require.ElementsMatch(t, []string{walletA, walletB}, refresher.wallets)
}

func TestNoncesStrictlyIncreasing(t *testing.T) {
	var nonces []uint64
	cm := &chainMock{
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			nonces = append(nonces, sub.Nonce)
			return "0xhash", nil
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	for i := 0; i < 5; i++ {
		seedAction(t, db, fmt.Sprintf("a%d", i), walletA, "JOURNEY", queue.StatusPending, 0, time.Duration(10-i)*time.Minute)
	}

	_, err := proc.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, nonces, 5)
	for i, n := range nonces {
		require.Equal(t, uint64(100+i), n)
	}
}

func TestSubmitFailureSchedulesRetry(t *testing.T) {
	cm := &chainMock{
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			return "", errors.New("nonce too low")
		},
	}
	proc, db, refresher := newTestProcessor(t, cm)

	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusPending, 0, time.Minute)

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	row := loadAction(t, db, "a1")
	require.Equal(t, queue.StatusFailedRetryable, row.Status)
	require.Equal(t, 1, row.RetryCount)
	require.Contains(t, row.LastError, "nonce too low")

	// No stats refresh without a confirmation.
	require.Empty(t, refresher.wallets)
}

func TestFailureInvalidatesNonceSequence(t *testing.T) {
	var seeds int
	fail := true
	cm := &chainMock{
		pendingNonceFn: func(ctx context.Context) (uint64, error) {
			seeds++
			return 200, nil
		},
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			if fail {
				return "", errors.New("underpriced")
			}
			return "0xhash", nil
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusPending, 0, time.Minute)

	_, err := proc.RunCycle(context.Background())
	require.NoError(t, err)

	// The failed submission may or may not have consumed the nonce, so
	// the next cycle reseeds from the chain.
	fail = false
	_, err = proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, seeds)

	row := loadAction(t, db, "a1")
	require.Equal(t, queue.StatusConfirmed, row.Status)
}

func TestActionAbandonedAfterMaxRetries(t *testing.T) {
	cm := &chainMock{
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			return "", errors.New("execution reverted")
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	// Two failures already on record; this cycle is the third and last.
	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusFailedRetryable, 2, time.Minute)

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Abandoned)

	row := loadAction(t, db, "a1")
	require.Equal(t, queue.StatusAbandoned, row.Status)
	require.Equal(t, 3, row.RetryCount)

	var rec Reconciliation
	require.NoError(t, db.First(&rec, "action_id = ?", "a1").Error)
	require.Equal(t, walletA, rec.Wallet)
	require.False(t, rec.Resolved)

	// Exhausted actions never come back.
	next, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, next.Fetched)
}

func TestOneFailureDoesNotAbortBatch(t *testing.T) {
	cm := &chainMock{
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			if sub.Wallet == common.HexToAddress(walletA) {
				return "", errors.New("execution reverted")
			}
			return "0xhash", nil
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusPending, 0, 2*time.Minute)
	seedAction(t, db, "a2", walletB, "JOURNEY", queue.StatusPending, 0, time.Minute)

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Confirmed)

	require.Equal(t, queue.StatusFailedRetryable, loadAction(t, db, "a1").Status)
	require.Equal(t, queue.StatusConfirmed, loadAction(t, db, "a2").Status)
}

func TestMessagesCoalescePerWallet(t *testing.T) {
	var subs []chain.ActionSubmission
	cm := &chainMock{
		submitActionFn: func(ctx context.Context, sub chain.ActionSubmission) (string, error) {
			subs = append(subs, sub)
			return "0xhash", nil
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	seedAction(t, db, "m1", walletA, "MESSAGE", queue.StatusPending, 0, 3*time.Minute)
	seedAction(t, db, "m2", walletA, "MESSAGE", queue.StatusPending, 0, 2*time.Minute)
	seedAction(t, db, "m3", walletB, "MESSAGE", queue.StatusPending, 0, time.Minute)

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Confirmed)

	// Wallet A's two messages rode one transaction.
	require.Len(t, subs, 2)

	var coalesced chain.ActionSubmission
	for _, sub := range subs {
		if sub.Wallet == common.HexToAddress(walletA) {
			coalesced = sub
		}
	}
	require.InDelta(t, 20, coalesced.BaseAmount, 1e-9)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.Equal(t, queue.StatusConfirmed, loadAction(t, db, id).Status)
	}
}

func TestNonceOutageLeavesBatchUntouched(t *testing.T) {
	cm := &chainMock{
		pendingNonceFn: func(ctx context.Context) (uint64, error) {
			return 0, errors.New("connection refused")
		},
	}
	proc, db, _ := newTestProcessor(t, cm)

	seedAction(t, db, "a1", walletA, "JOURNEY", queue.StatusPending, 0, time.Minute)

	_, err := proc.RunCycle(context.Background())
	require.Error(t, err)

	// Nothing submitted, nothing retried; the row waits as queued.
	row := loadAction(t, db, "a1")
	require.Equal(t, queue.StatusPending, row.Status)
	require.Equal(t, 0, row.RetryCount)
}

func TestPendingReconciliationsPaginate(t *testing.T) {
	proc, db, _ := newTestProcessor(t, &chainMock{})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&Reconciliation{
			ID:         proc.node.Generate(),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			ActionID:   fmt.Sprintf("a%d", i),
			Wallet:     walletA,
			ActionType: "JOURNEY",
		}).Error)
	}

	first, info, err := proc.PendingReconciliations(context.Background(), pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, info.HasMore)

	rest, info, err := proc.PendingReconciliations(context.Background(), pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)

	seen := make(map[string]struct{})
	for _, r := range append(first, rest...) {
		seen[r.ActionID] = struct{}{}
	}
	require.Len(t, seen, 5)

	// Resolved records drop out of the listing.
	require.NoError(t, proc.Resolve(context.Background(), first[0].ID))
	remaining, _, err := proc.PendingReconciliations(context.Background(), pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, remaining, 4)
}

func TestBatchSizeBoundsCycle(t *testing.T) {
	cm := &chainMock{}
	proc, db, _ := newTestProcessor(t, cm)
	proc.cfg.Settlement.BatchSize = 2

	for i := 0; i < 3; i++ {
		seedAction(t, db, fmt.Sprintf("a%d", i), walletA, "JOURNEY", queue.StatusPending, 0, time.Duration(10-i)*time.Minute)
	}

	res, err := proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)

	res, err = proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Fetched)
}
