package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"contextly-rewards/pkg/config"
	"contextly-rewards/services/reward"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the settlement state of a queued action. pending and
// failed_retryable actions are eligible for the next batch; confirmed
// and abandoned are terminal. Rows are never deleted; the table doubles
// as the settlement audit trail.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusConfirmed       Status = "confirmed"
	StatusFailedRetryable Status = "failed_retryable"
	StatusAbandoned       Status = "abandoned"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusAbandoned
}

// RetryableStatuses are the states the settlement processor pulls from.
var RetryableStatuses = []Status{StatusPending, StatusFailedRetryable}

type ContributionAction struct {
	ActionID     string         `gorm:"column:action_id;primaryKey"`
	QueuedAt     time.Time      `gorm:"column:queued_at;autoCreateTime;index"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	Wallet       string         `gorm:"column:wallet;index;not null"`
	ActionType   string         `gorm:"column:action_type;type:varchar(20);not null"`
	BaseAmount   float64        `gorm:"column:base_amount;not null"`
	QualityScore float64        `gorm:"column:quality_score;not null"`
	ExtraData    datatypes.JSON `gorm:"column:extra_data"`
	Status       Status         `gorm:"column:status;type:varchar(20);default:'pending';index"`
	RetryCount   int            `gorm:"column:retry_count;not null;default:0"`
	TxHash       string         `gorm:"column:tx_hash"`
	LastError    string         `gorm:"column:last_error;type:text"`
}

// Referral records who referred whom. A referee may only ever be
// referred once.
type Referral struct {
	ID        snowflake.ID `gorm:"column:id;primaryKey"`
	CreatedAt time.Time    `gorm:"column:created_at"`
	Referrer  string       `gorm:"column:referrer;index;not null"`
	Referee   string       `gorm:"column:referee;uniqueIndex;not null"`
	Code      string       `gorm:"column:code"`
}

// ContributionEvent is what the application layer hands to QueueAction.
type ContributionEvent struct {
	Wallet       string
	ActionType   reward.ActionType
	BaseAmount   float64
	QualityScore float64
	Platform     string
	ExtraData    map[string]interface{}
}

const (
	ResultQueued           = "queued"
	ResultAlreadyProcessed = "already_processed"
)

// QueueResult acknowledges a queued (or deduplicated) event. The
// estimate is advisory only; the authoritative amount is whatever the
// ledger confirms at settlement.
type QueueResult struct {
	Status          string  `json:"status"`
	ActionID        string  `json:"action_id"`
	EstimatedReward float64 `json:"estimated_reward"`
	Provisional     bool    `json:"provisional,omitempty"`
	QueueDepth      int64   `json:"queue_depth"`
}

// JourneyResult extends QueueResult with the generated journey id.
type JourneyResult struct {
	QueueResult
	JourneyID string `json:"journey_id"`
}

// JourneyInput describes a completed browsing journey.
type JourneyInput struct {
	Wallet          string
	SessionID       string
	QualityScore    float64
	Category        string
	DurationSeconds int64
	ScreenshotCount int
	Patterns        []string
}

// FastPath is the bounded in-process queue between request handlers and
// the settlement processor. Producers enqueue without blocking; when
// the buffer is full the action simply waits for the next poll cycle.
type FastPath chan string

func NewFastPath(cfg *config.Config) FastPath {
	return make(FastPath, cfg.Settlement.FastPathBuffer)
}

const (
	minuteBucketLayout = "2006-01-02T15:04"
	dayBucketLayout    = "2006-01-02"
)

// DeriveActionID builds the idempotency key from the wallet, action
// type and a submission-time bucket: a day for DAILY_CHECKIN (one
// check-in per day), a minute for everything else. Semantically
// identical events inside a bucket collapse onto the same id.
func DeriveActionID(wallet string, actionType reward.ActionType, at time.Time) string {
	bucket := at.UTC().Format(minuteBucketLayout)
	if actionType == reward.ActionDailyCheckin {
		bucket = at.UTC().Format(dayBucketLayout)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%s", wallet, actionType, bucket)))
	return hex.EncodeToString(sum[:])[:16]
}
