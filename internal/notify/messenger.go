// Package notify delivers best-effort messages to users.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ContentTypeJSON is the content type of every event sent by the coordinator.
const ContentTypeJSON = "application/json"

// Messenger sends a payload to a single user.
type Messenger interface {
	SendMessage(ctx context.Context, userID int64, payload []byte, contentType string) error
}

// RedisConfig holds the Redis connection used for message delivery.
type RedisConfig struct {
	// betteralign:ignore

	Address  string `long:"address" env:"ADDRESS" description:"Redis address (host:port), messages are only logged when empty"`
	Password string `long:"password" env:"PASSWORD" description:"Redis password"`
	Prefix   string `long:"prefix" env:"PREFIX" description:"Channel prefix for user messages" default:"gamemaster:user:"`
	DB       int    `long:"db" env:"DB" description:"Redis database number" default:"0"`
}

// envelope is what subscribers of a user channel receive.
type envelope struct {
	ContentType string          `json:"content_type"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisMessenger publishes messages on a per-user Redis channel,
// the realtime gateway holding the user connection relays them.
type RedisMessenger struct {
	client *redis.Client
	prefix string
}

// NewRedisMessenger creates a messenger for the given configuration.
func NewRedisMessenger(cfg RedisConfig) *RedisMessenger {
	return &RedisMessenger{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

// Ping checks the Redis connection.
func (m *RedisMessenger) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (m *RedisMessenger) Close() error {
	return m.client.Close()
}

// Channel returns the channel name of a user.
func (m *RedisMessenger) Channel(userID int64) string {
	return fmt.Sprintf("%s%d", m.prefix, userID)
}

// SendMessage publishes payload to the user channel.
func (m *RedisMessenger) SendMessage(ctx context.Context, userID int64, payload []byte, contentType string) error {
	raw := json.RawMessage(payload)
	if contentType != ContentTypeJSON || !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		raw = quoted
	}

	data, err := json.Marshal(envelope{ContentType: contentType, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return m.client.Publish(ctx, m.Channel(userID), data).Err()
}

// LogMessenger only logs messages. Used when no delivery backend is configured.
type LogMessenger struct{}

// SendMessage logs the message and drops it.
func (LogMessenger) SendMessage(_ context.Context, userID int64, payload []byte, contentType string) error {
	log.Debug().
		Int64("user", userID).
		Str("content_type", contentType).
		RawJSON("payload", payload).
		Msg("Message dropped, no messenger configured")

	return nil
}
