package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"attempt-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

// CompletionChannel is the pub/sub channel completion signals are published on.
const CompletionChannel = "ledger:completions"

// CompletionPublisher implements app.Notifier on Redis.
// Each signal is appended to a capped per-user list
//
//	LPUSH notifications:{userID} <json>
//
// and published on CompletionChannel for live consumers.
type CompletionPublisher struct {
	client *redis.Client
	cap    int64
}

func NewCompletionPublisher(client *redis.Client, cap int64) *CompletionPublisher {
	if cap <= 0 {
		cap = 100
	}
	return &CompletionPublisher{client: client, cap: cap}
}

func (p *CompletionPublisher) Notify(ctx context.Context, signal domain.CompletionSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	key := notificationsKey(signal.UserID)

	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, p.cap-1)
	pipe.Publish(ctx, CompletionChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// Recent returns up to limit notifications for userID, newest first.
func (p *CompletionPublisher) Recent(ctx context.Context, userID string, limit int64) ([]domain.CompletionSignal, error) {
	if limit <= 0 {
		limit = p.cap
	}
	raw, err := p.client.LRange(ctx, notificationsKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.CompletionSignal, 0, len(raw))
	for _, item := range raw {
		var s domain.CompletionSignal
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("decode completion: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Subscribe relays signals published by any instance until ctx is done.
func (p *CompletionPublisher) Subscribe(ctx context.Context, handle func(domain.CompletionSignal)) error {
	sub := p.client.Subscribe(ctx, CompletionChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var s domain.CompletionSignal
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				continue
			}
			handle(s)
		}
	}
}

func notificationsKey(userID string) string {
	return "notifications:" + userID
}
