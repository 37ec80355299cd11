package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// UserChannel is the Redis pub/sub channel carrying a user's live notifications.
func UserChannel(userID string) string {
	return fmt.Sprintf("user_notifications:%s", userID)
}

// RedisPublisher pushes notification events to the recipient's channel.
// Events on other subjects, or without a recipient, are ignored.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, subject string, evt Event) error {
	if subject != SubjectNotificationCreated || evt.UserID == "" {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, UserChannel(evt.UserID), payload).Err()
}

// RedisFeed subscribes to a user's live notification channel.
type RedisFeed struct {
	client redis.UniversalClient
}

func NewRedisFeed(client redis.UniversalClient) *RedisFeed {
	return &RedisFeed{client: client}
}

// Subscribe returns raw event payloads addressed to userID until ctx ends
// or the returned close func is called.
func (f *RedisFeed) Subscribe(ctx context.Context, userID string) (<-chan []byte, func() error, error) {
	sub := f.client.Subscribe(ctx, UserChannel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, sub.Close, nil
}
