package market

import (
	"context"
	"errors"
	"time"

	"github.com/gamestock/gamestock-service/internal/config"
	"github.com/gamestock/gamestock-service/internal/constant"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/gamestock/gamestock-service/internal/pricing"
	"github.com/gamestock/gamestock-service/internal/util"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Listing pairs a catalog item with its current quote for the browse
// endpoints.
type Listing struct {
	Item  entity.Item  `json:"item"`
	Quote entity.Quote `json:"quote"`
}

// MarketService is the read model over the catalog: item lookups, search,
// and cached quotes. The cache ttl follows the oracle's staleness window;
// catalog refresh events shorten it further by invalidating keys.
type MarketService struct {
	items  entity.ItemStore
	oracle *pricing.Oracle
	cache  QuoteCache
	js     nats.JetStreamContext
}

func NewMarketService(items entity.ItemStore, oracle *pricing.Oracle, cache QuoteCache, js nats.JetStreamContext) *MarketService {
	return &MarketService{
		items:  items,
		oracle: oracle,
		cache:  cache,
		js:     js,
	}
}

func (s *MarketService) GetItem(ctx context.Context, itemID int64) (*Listing, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	quote, err := s.quoteFor(ctx, *item)
	if err != nil {
		return nil, err
	}

	return &Listing{Item: *item, Quote: quote}, nil
}

func (s *MarketService) GetQuote(ctx context.Context, itemID int64) (*entity.Quote, error) {
	listing, err := s.GetItem(ctx, itemID)
	if err != nil || listing == nil {
		return nil, err
	}

	return &listing.Quote, nil
}

func (s *MarketService) SearchItems(ctx context.Context, keyword string, limit int) ([]Listing, error) {
	items, err := s.items.Search(ctx, keyword, limit)
	if err != nil {
		return nil, err
	}

	return s.buildListings(ctx, items)
}

func (s *MarketService) ListItems(ctx context.Context, limit int) ([]Listing, error) {
	items, err := s.items.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	return s.buildListings(ctx, items)
}

func (s *MarketService) buildListings(ctx context.Context, items []entity.Item) ([]Listing, error) {
	listings := make([]Listing, 0, len(items))
	for _, item := range items {
		quote, err := s.quoteFor(ctx, item)
		if err != nil {
			return nil, err
		}

		listings = append(listings, Listing{Item: item, Quote: quote})
	}

	return listings, nil
}

// quoteFor serves cached quotes when possible. Cache failures degrade to a
// fresh computation, never to an error.
func (s *MarketService) quoteFor(ctx context.Context, item entity.Item) (entity.Quote, error) {
	if s.cache != nil {
		cached, found, err := s.cache.Load(ctx, item.ID)
		if err != nil {
			logrus.Warnf("quote cache load failed: %v", err)
		} else if found {
			return cached, nil
		}
	}

	quote := s.oracle.Quote(item, time.Now().UTC())

	if s.cache != nil {
		if err := s.cache.Save(ctx, item.ID, quote, s.oracle.StaleAfter()); err != nil {
			logrus.Warnf("quote cache save failed: %v", err)
		}
	}

	return quote, nil
}

func (s *MarketService) JetstreamEventInit(ctx context.Context) error {
	if s.js == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.CatalogStreamName,
		Subjects:  []string{constant.CatalogStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    1 * time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.CatalogStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.CatalogStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.CatalogStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// JetstreamEventSubscribe listens for catalog refreshes published by the
// sync collaborator and drops the affected cached quotes.
func (s *MarketService) JetstreamEventSubscribe(ctx context.Context) error {
	if s.js == nil {
		return nil
	}

	err := s.JetstreamEventInit(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}

	timeout := 5 * time.Second
	if config.Env != nil {
		if configured, ok := config.Env.NatsJetstream.TimeoutHandler["catalog_item_refreshed"]; ok {
			timeout = configured
		}
	}

	_, err = s.js.QueueSubscribe(
		constant.CatalogStreamSubjectItemRefreshed,
		constant.CatalogQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(timeout, msg, s.handleItemRefreshedEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.Durable(constant.CatalogQueueGroup),
	)

	return err
}

func (s *MarketService) handleItemRefreshedEvent(ctx context.Context, msg *nats.Msg) error {
	var event entity.ItemRefreshedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logrus.Error(err)
		return err
	}

	if s.cache == nil {
		return nil
	}

	if err := s.cache.Invalidate(ctx, event.ItemID); err != nil {
		logrus.Errorf("failed to invalidate cached quote for item %d: %v", event.ItemID, err)
		return err
	}

	return nil
}
