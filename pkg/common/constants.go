package common

const (
	// RedisKeyDayLockPrefix scopes the per-trading-day advisory lock.
	RedisKeyDayLockPrefix = "settlement:day-lock:"

	// SettlementDayCachePrefix scopes cached settled-day reads.
	SettlementDayCachePrefix = "settlement:day:"
)
