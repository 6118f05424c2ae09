package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	GamestockDatabaseName = "gamestock"
	CacheRedisName        = "cache"
)
