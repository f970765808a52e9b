package settlement

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reconciliation is the manual-review record written when an action
// exhausts its submission retries. The off-chain accrual the action
// already earned is deliberately left in place; an operator decides
// whether to replay or reverse it.
type Reconciliation struct {
	ID         snowflake.ID `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time    `gorm:"column:created_at"`
	ActionID   string       `gorm:"column:action_id;index;not null"`
	Wallet     string       `gorm:"column:wallet;index;not null"`
	ActionType string       `gorm:"column:action_type;not null"`
	BaseAmount float64      `gorm:"column:base_amount"`
	RetryCount int          `gorm:"column:retry_count"`
	LastError  string       `gorm:"column:last_error;type:text"`
	Resolved   bool         `gorm:"column:resolved;default:false"`
}

// CycleResult summarises one settlement pass.
type CycleResult struct {
	Fetched   int
	Submitted int
	Confirmed int
	Failed    int
	Abandoned int
}

func (r CycleResult) Empty() bool {
	return r.Fetched == 0
}
