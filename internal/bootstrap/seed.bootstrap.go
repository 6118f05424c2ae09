package bootstrap

import (
	"context"
	"time"

	"github.com/gamestock/gamestock-service/internal/config"
	"github.com/gamestock/gamestock-service/internal/constant"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/gamestock/gamestock-service/internal/infrastructure"
	"github.com/gamestock/gamestock-service/internal/repository"
	"github.com/gamestock/gamestock-service/internal/service/trading"
	"github.com/gamestock/gamestock-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// seedItems mirrors a handful of well known catalog entries so a fresh
// development database has something tradable before the first catalog sync.
var seedItems = []entity.Item{
	{ExternalID: "730", Name: "Counter-Strike 2", PositiveReviews: 7143563, TotalReviews: 8234772},
	{ExternalID: "440", Name: "Team Fortress 2", PositiveReviews: 1123666, TotalReviews: 1211852},
	{ExternalID: "570", Name: "Dota 2", PositiveReviews: 1783369, TotalReviews: 2093781},
	{ExternalID: "271590", Name: "Grand Theft Auto V", PositiveReviews: 1228468, TotalReviews: 1577865},
	{ExternalID: "1086940", Name: "Baldur's Gate 3", PositiveReviews: 640473, TotalReviews: 671501},
	{ExternalID: "394360", Name: "Hearts of Iron IV", PositiveReviews: 218657, TotalReviews: 243765},
}

// StartSeed inserts development catalog items and opens a demo account. It
// is idempotent for items (keyed by external id) but always opens a fresh
// account.
func StartSeed(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dbConfig := config.Env.Database[constant.GamestockDatabaseName]
	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	defer func() {
		_ = db.Close()
	}()

	itemRepository := repository.NewItemRepository(db)

	now := time.Now().UTC()
	for idx := range seedItems {
		item := seedItems[idx]
		item.LastRefreshed = now

		err = itemRepository.Create(ctx, &item)
		util.ContinueOrFatal(err)

		logrus.WithFields(logrus.Fields{
			"item_id":     item.ID,
			"external_id": item.ExternalID,
			"name":        item.Name,
		}).Info("seeded catalog item")
	}

	tradeStores := repository.NewTradeStores(db)
	tradingService := trading.NewTradingService(itemRepository, tradeStores, repository.NewTxManager(db), nil, nil, trading.ConfigFromEnv(config.Env.Trading))

	account, err := tradingService.OpenAccount(ctx)
	util.ContinueOrFatal(err)

	logrus.WithFields(logrus.Fields{
		"account_id":   account.ID,
		"cash_balance": account.CashBalance.String(),
	}).Info("seeded demo account")
}
