// Package pub publishes transaction lifecycle events on Redis pub/sub for
// downstream consumers (analytics, back-office tooling). Fire and forget:
// pub/sub offers no delivery guarantee and none of the engine's invariants
// depend on it.
package pub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channel = "transaction_events"

type Event struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        int64     `json:"user_id"`
	Asset         string    `json:"asset,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event Event) {
	event.At = time.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.Error(err))
	}
}
