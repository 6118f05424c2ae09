package constant

const (
	TradingStreamName                 = "trading"
	TradingStreamSubjectAll           = "trading.*"
	TradingStreamSubjectTradeExecuted = "trading.trade_executed"

	CatalogStreamName                 = "catalog"
	CatalogStreamSubjectAll           = "catalog.*"
	CatalogStreamSubjectItemRefreshed = "catalog.item_refreshed"

	CatalogQueueName  = "catalog_refresh_queue"
	CatalogQueueGroup = "catalog_refresh_group"
)
