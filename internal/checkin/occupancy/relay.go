package occupancy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// RedisRelay fans updates out across service instances. Publish goes to a Redis
// channel and every instance running Start feeds what it receives into its local
// Broadcaster, so the publishing instance must not also emit locally.
type RedisRelay struct {
	Client      *redis.Client
	Channel     string
	Broadcaster *Broadcaster
	Logger      *logger.Logger
}

func NewRedisRelay(client *redis.Client, channel string, broadcaster *Broadcaster, log *logger.Logger) *RedisRelay {
	return &RedisRelay{
		Client:      client,
		Channel:     channel,
		Broadcaster: broadcaster,
		Logger:      log,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, update models.OccupancyUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal occupancy update: %w", err)
	}
	if err := r.Client.Publish(ctx, r.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish occupancy update: %w", err)
	}
	return nil
}

// Start subscribes to the relay channel and returns once the subscription is
// confirmed. Messages are forwarded until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.Client.Subscribe(ctx, r.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.Channel, err)
	}

	r.Logger.Info("OCCUPANCY", fmt.Sprintf("Relaying occupancy updates on Redis channel %s", r.Channel))
	go r.forward(ctx, sub)
	return nil
}

func (r *RedisRelay) forward(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var update models.OccupancyUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				r.Logger.Warn("OCCUPANCY", fmt.Sprintf("Dropping malformed relay message: %v", err))
				continue
			}
			r.Broadcaster.Emit(update)
		}
	}
}
