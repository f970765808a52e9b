package rediskey

import "fmt"

// Reward pipeline keys (global convention across services)
const (
	AccrualPrefix    = "accrual"
	StatsFreshPrefix = "stats"
	StatsStalePrefix = "stats:stale"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildAccrualKey returns "accrual:{wallet}"
func BuildAccrualKey(wallet string) string {
	return NamespaceKey(AccrualPrefix, wallet)
}

// BuildStatsKey returns "stats:{wallet}"
func BuildStatsKey(wallet string) string {
	return NamespaceKey(StatsFreshPrefix, wallet)
}

// BuildStaleStatsKey returns "stats:stale:{wallet}"
func BuildStaleStatsKey(wallet string) string {
	return NamespaceKey(StatsStalePrefix, wallet)
}
