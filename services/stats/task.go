package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"contextly-rewards/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RefreshPayload struct {
	WalletAddress string `json:"wallet_address"`
}

func NewRefreshTask(wallet string) (*asynq.Task, error) {
	payload, err := json.Marshal(RefreshPayload{WalletAddress: wallet})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.StatsRefresh, payload), nil
}

// Enqueuer schedules stats refreshes on the task queue. Tasks are
// unique per wallet so a settlement batch touching the same wallet
// several times refreshes it once.
type Enqueuer struct {
	client *asynq.Client
}

type EnqueuerParams struct {
	fx.In

	Client *asynq.Client
}

func NewEnqueuer(p EnqueuerParams) *Enqueuer {
	return &Enqueuer{client: p.Client}
}

func (e *Enqueuer) EnqueueRefresh(ctx context.Context, wallet string) error {
	task, err := NewRefreshTask(wallet)
	if err != nil {
		return err
	}

	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue("low"),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		// A duplicate means a refresh is already queued for this wallet.
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return err
	}

	return nil
}

// HandleRefreshStats is the asynq handler behind taskname.StatsRefresh.
func (s *Service) HandleRefreshStats(ctx context.Context, t *asynq.Task) error {
	var payload RefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	if _, err := s.Refresh(ctx, payload.WalletAddress); err != nil {
		zap.L().Warn("background stats refresh failed",
			zap.String("wallet", payload.WalletAddress),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.StatsRefresh, svc.HandleRefreshStats)
}
