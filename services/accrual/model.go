package accrual

import "time"

// Roles recorded against accrued tokens.
const (
	RoleContributor = "contributor"
	RoleSystem      = "system"
)

// AccrualRecord is the fast, eventually-settled view of a wallet's
// earnings. It is updated synchronously at event-ingestion time and is
// deliberately not tied to on-chain settlement: the displayed "earned"
// figure moves immediately, minted tokens lag behind via the queue.
type AccrualRecord struct {
	Wallet        string
	TotalTokens   float64
	Contributions int64
	ByPlatform    map[string]float64
	ByRole        map[string]float64
	Daily         map[string]float64
	LastUpdate    time.Time
}

const (
	fieldTotal         = "total"
	fieldContributions = "contributions"
	fieldLastUpdate    = "last_update"

	platformFieldPrefix = "platform:"
	roleFieldPrefix     = "role:"
	dayFieldPrefix      = "day:"

	dayLayout = "2006-01-02"
)
