package trading

import (
	"context"
	"time"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var oneHundred = decimal.NewFromInt(100)

// GetPosition values one holding at the oracle's current price. A
// position deleted by a concurrent sell reads as no holding: (nil, nil).
func (s *TradingService) GetPosition(ctx context.Context, accountID, itemID int64) (*entity.PositionValuation, error) {
	position, err := s.reads.Positions.Get(ctx, accountID, itemID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, nil
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		// Item vanished underneath the position; value it at zero rather
		// than failing the read.
		item = &entity.Item{ID: itemID}
	}

	valuation := s.valuePosition(*position, *item)
	return &valuation, nil
}

func (s *TradingService) ListPositions(ctx context.Context, accountID int64) ([]entity.PositionValuation, error) {
	positions, err := s.reads.Positions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	valuations := make([]entity.PositionValuation, 0, len(positions))
	for _, position := range positions {
		item, err := s.items.GetByID(ctx, position.ItemID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			logrus.WithFields(logrus.Fields{
				"account_id": position.AccountID,
				"item_id":    position.ItemID,
			}).Warn("position references a missing item")
			item = &entity.Item{ID: position.ItemID}
		}

		valuations = append(valuations, s.valuePosition(position, *item))
	}

	return valuations, nil
}

func (s *TradingService) PortfolioSummary(ctx context.Context, accountID int64) (*entity.PortfolioSummary, error) {
	account, err := s.reads.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, entity.NewRejection(entity.ReasonUnknownAccount, "account does not exist")
	}

	holdings, err := s.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	summary := &entity.PortfolioSummary{
		Account:  *account,
		Holdings: holdings,
	}

	for _, holding := range holdings {
		summary.TotalMarketValue = summary.TotalMarketValue.Add(holding.MarketValue)
		summary.TotalCostValue = summary.TotalCostValue.Add(holding.Position.CostValue())
		summary.TotalUnrealizedPL = summary.TotalUnrealizedPL.Add(holding.UnrealizedPL)
	}
	summary.TotalAssets = summary.TotalMarketValue.Add(account.CashBalance)

	return summary, nil
}

func (s *TradingService) valuePosition(position entity.Position, item entity.Item) entity.PositionValuation {
	quote := s.oracle.Quote(item, time.Now().UTC())

	marketValue := quote.Price.Mul(decimal.NewFromInt(position.Shares))
	costValue := position.CostValue()
	unrealized := marketValue.Sub(costValue)

	// Guard the percentage against a zero denominator instead of
	// propagating NaN downstream.
	unrealizedPct := decimal.Zero
	if costValue.IsPositive() {
		unrealizedPct = unrealized.Div(costValue).Mul(oneHundred)
	}

	return entity.PositionValuation{
		Position:        position,
		Item:            item,
		Quote:           quote,
		MarketValue:     marketValue,
		UnrealizedPL:    unrealized,
		UnrealizedPLPct: unrealizedPct,
	}
}
