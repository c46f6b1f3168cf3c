package taskname

const (
	// Brief tasks
	BriefGenerate = "brief:generate"

	// Housekeeping tasks
	CacheCleanupExpired     = "cache:cleanup:expired"
	ExecutionCleanupExpired = "execution:cleanup:expired"
)
