package stats

import "time"

// UserStats is the cached, read-optimised view of a wallet's on-chain
// standing. Stale marks a snapshot served past its freshness window
// because the chain was unreachable at read time.
type UserStats struct {
	WalletAddress    string    `json:"wallet_address"`
	Balance          float64   `json:"balance"`
	TotalEarned      float64   `json:"total_earned"`
	TotalWords       int64     `json:"total_words"`
	TotalCharacters  int64     `json:"total_characters"`
	QualityScore     float64   `json:"quality_score"`
	LastActive       time.Time `json:"last_active"`
	ContributionDays int64     `json:"contribution_days"`
	CurrentStreak    int64     `json:"current_streak"`
	LongestStreak    int64     `json:"longest_streak"`
	JourneyCount     int64     `json:"journey_count"`
	ReferralCount    int64     `json:"referral_count"`
	ReferralEarnings float64   `json:"referral_earnings"`
	Stale            bool      `json:"stale,omitempty"`
	CachedAt         time.Time `json:"cached_at"`
}
