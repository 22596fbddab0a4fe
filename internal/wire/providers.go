package wire

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/google/wire"
	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
	"billingdesk/internal/dbmongo"
	"billingdesk/internal/events"
	"billingdesk/internal/logger"
	"billingdesk/internal/notif"
	"billingdesk/internal/realtime"
)

type Application struct {
	Config      *config.Config
	Logger      *zap.SugaredLogger
	Mongo       *dbmongo.MongoClient
	Broadcaster *notif.Broadcaster
	Service     *notif.Service
	Handler     *notif.Handler
	Hub         *realtime.Hub
	Tokens      *common.TokenManager
	Observers   *Observers
}

// Observers are the broadcast subscribers beyond the websocket hub. Both are
// nil when disabled in config.
type Observers struct {
	Relay *realtime.Relay
	Kafka *events.KafkaSink
}

var ProviderSet = wire.NewSet(
	config.LoadConfig,
	ProvideLogger,
	ProvideMongo,
	dbmongo.NewNotificationStore,
	dbmongo.NewProductRepository,
	dbmongo.NewTaxEntryRepository,
	dbmongo.NewOrderRepository,
	ProvideBroadcaster,
	notif.NewEngineFromConfig,
	notif.NewService,
	ProvideTokenManager,
	notif.NewHandler,
	ProvideHub,
	ProvideObservers,
	wire.Struct(new(Application), "*"),
)

func ProvideLogger(cfg *config.Config) (*zap.SugaredLogger, func(), error) {
	log, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, func() { _ = log.Sync() }, nil
}

func ProvideMongo(cfg *config.Config, log *zap.SugaredLogger) (*dbmongo.MongoClient, func(), error) {
	mc, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("connected to mongodb", "database", cfg.MongoDB.Database)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Close(ctx); err != nil {
			log.Warnw("mongodb disconnect failed", "error", err)
		}
	}
	return mc, cleanup, nil
}

func ProvideBroadcaster(cfg *config.Config, log *zap.SugaredLogger) (*notif.Broadcaster, func()) {
	b := notif.NewBroadcasterFromConfig(cfg, log)
	return b, b.Shutdown
}

func ProvideTokenManager(cfg *config.Config) *common.TokenManager {
	return common.NewTokenManager(cfg.Auth.JWTSecret, cfg.TokenTTL())
}

func ProvideHub(log *zap.SugaredLogger) (*realtime.Hub, func()) {
	hub := realtime.NewHub(log)
	return hub, hub.Shutdown
}

// ProvideObservers subscribes the hub and every enabled sink to the broadcaster.
func ProvideObservers(cfg *config.Config, log *zap.SugaredLogger, b *notif.Broadcaster, hub *realtime.Hub) (*Observers, func(), error) {
	obs := &Observers{}
	b.Subscribe(hub)

	if cfg.Redis.Enabled {
		instanceID := cfg.Server.InstanceID
		if instanceID == "" {
			host, _ := os.Hostname()
			instanceID = host + "-" + uuid.NewString()[:8]
		}
		rdb := realtime.NewRedisClient(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		obs.Relay = realtime.NewRelay(rdb, cfg.Redis.Channel, instanceID, hub, log)
		b.Subscribe(obs.Relay)
	}

	if cfg.Kafka.Enabled {
		obs.Kafka = events.NewKafkaSink(cfg, log)
		b.Subscribe(obs.Kafka)
	}

	cleanup := func() {
		if obs.Relay != nil {
			b.Unsubscribe(obs.Relay)
			_ = obs.Relay.Close()
		}
		if obs.Kafka != nil {
			b.Unsubscribe(obs.Kafka)
			_ = obs.Kafka.Close()
		}
		b.Unsubscribe(hub)
	}
	return obs, cleanup, nil
}
