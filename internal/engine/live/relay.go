package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewRedisClient connects to url (redis://...) and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisRelay shares live events between instances over one pub/sub channel.
// Each instance tags what it publishes so it can drop its own echoes.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
	}
}

func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	data, err := encodeRelayMessage(r.instanceID, payload)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(payload []byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Str("instance", r.instanceID).Msg("live relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			payload, ok := decodeRelayMessage(r.instanceID, msg.Payload)
			if !ok {
				continue
			}
			deliver(payload)
		}
	}
}

func encodeRelayMessage(origin string, payload []byte) (string, error) {
	data, err := json.Marshal(relayEnvelope{Origin: origin, Event: payload})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeRelayMessage returns the event payload unless the message is
// malformed or was published by self.
func decodeRelayMessage(self, raw string) ([]byte, bool) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Warn().Err(err).Msg("dropping malformed relay message")
		return nil, false
	}
	if env.Origin == self || len(env.Event) == 0 {
		return nil, false
	}
	return env.Event, true
}
