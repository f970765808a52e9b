package taskname

const (
	// Stats tasks
	StatsRefresh = "stats:refresh"
)
