package bootstrap

import (
	"context"
	"net/http"

	"github.com/gamestock/gamestock-service/internal/config"
	"github.com/gamestock/gamestock-service/internal/constant"
	"github.com/gamestock/gamestock-service/internal/entity"
	markethttp "github.com/gamestock/gamestock-service/internal/handler/market/http"
	tradinghttp "github.com/gamestock/gamestock-service/internal/handler/trading/http"
	"github.com/gamestock/gamestock-service/internal/infrastructure"
	"github.com/gamestock/gamestock-service/internal/pricing"
	"github.com/gamestock/gamestock-service/internal/repository"
	"github.com/gamestock/gamestock-service/internal/service/market"
	"github.com/gamestock/gamestock-service/internal/service/trading"
	"github.com/gamestock/gamestock-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartTradingGateway wires the trading and market services behind a single
// HTTP server. It is the main serving process of the system.
func StartTradingGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dbConfig := config.Env.Database[constant.GamestockDatabaseName]
	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	quoteCache, err := market.NewRedisQuoteCache(config.Env.Redis[constant.CacheRedisName].CacheDSN)
	util.ContinueOrFatal(err)

	itemRepository := repository.NewItemRepository(db)
	tradeStores := repository.NewTradeStores(db)
	txManager := repository.NewTxManager(db)

	oracle := pricing.NewOracle(pricing.ConfigFromEnv(config.Env.Pricing))

	tradingService := trading.NewTradingService(itemRepository, tradeStores, txManager, oracle, js, trading.ConfigFromEnv(config.Env.Trading))
	marketService := market.NewMarketService(itemRepository, oracle, quoteCache, js)

	publishers := []entity.Publisher{
		tradingService,
		marketService,
	}
	for _, publisher := range publishers {
		err = publisher.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	subscribers := []entity.Subscriber{
		marketService,
	}
	for _, subscriber := range subscribers {
		err = subscriber.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	mux := http.NewServeMux()
	tradinghttp.NewTradingHTTPHandler(tradingService).Register(mux)
	markethttp.NewMarketHTTPHandler(marketService).Register(mux)

	httpConfig := infrastructure.DefaultHTTPServerConfig()
	httpServer := infrastructure.NewHTTPServerWithConfig(httpConfig, mux)

	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Errorf("http server stopped: %v", err)
			cancel()
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"http server": func(shutdownCtx context.Context) error {
			return httpServer.Shutdown(shutdownCtx)
		},
		"nats jetstream": func(_ context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
		"quote cache": func(_ context.Context) error {
			return quoteCache.Close()
		},
		"postgres": func(_ context.Context) error {
			return db.Close()
		},
		"cancel worker context": func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	<-wait
}
