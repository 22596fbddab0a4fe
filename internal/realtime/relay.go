package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

// Relay forwards locally published events to the other API instances over a
// Redis pub/sub channel and hands their events to the local hub. Events carry
// the publishing instance as Origin so an instance never re-delivers its own.
type Relay struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	local      common.Observer
	log        *zap.SugaredLogger
}

func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func NewRelay(rdb *redis.Client, channel, instanceID string, local common.Observer, log *zap.SugaredLogger) *Relay {
	return &Relay{
		rdb:        rdb,
		channel:    channel,
		instanceID: instanceID,
		local:      local,
		log:        log,
	}
}

func (r *Relay) Name() string {
	return "redis_relay"
}

// Update publishes a local event to the shared channel.
func (r *Relay) Update(event common.NotificationEvent) error {
	if event.Origin != "" && event.Origin != r.instanceID {
		// already relayed by its owner
		return nil
	}
	event.Origin = r.instanceID
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the shared channel until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	r.log.Infow("redis relay subscribed", "channel", r.channel, "instance", r.instanceID)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Warnw("redis relay subscription closed", "channel", r.channel)
				return
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

// deliver hands a remote event to the local observer. Own and malformed
// payloads are skipped.
func (r *Relay) deliver(payload []byte) bool {
	var event common.NotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.log.Warnw("dropping malformed relay payload", "error", err)
		return false
	}
	if event.Origin == r.instanceID {
		return false
	}
	if err := r.local.Update(event); err != nil {
		r.log.Warnw("relay delivery failed", "observer", r.local.Name(), "error", err)
		return false
	}
	return true
}

func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
