// Package sub consumes the deposit-watcher Kafka stream. Delivery is at
// least once; the ledger's per-hash dedup makes redelivery harmless, so
// offsets are committed only after a successful apply.
package sub

import (
	"context"
	"encoding/json"
	"errors"

	"offramp-engine/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Settlements interface {
	HandleDeposit(ctx context.Context, event domain.DepositEvent) error
}

type DepositSubscriber struct {
	reader      *kafka.Reader
	settlements Settlements
	logger      *zap.Logger
}

func NewDepositSubscriber(brokers []string, topic, groupID string, settlements Settlements, logger *zap.Logger) *DepositSubscriber {
	return &DepositSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		settlements: settlements,
		logger:      logger,
	}
}

// Run consumes until the context is cancelled.
func (s *DepositSubscriber) Run(ctx context.Context) {
	s.logger.Info("deposit subscriber started")
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("failed to fetch deposit event", zap.Error(err))
			continue
		}

		var event domain.DepositEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison message: log and commit past it.
			s.logger.Error("malformed deposit event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			s.commit(ctx, msg)
			continue
		}

		if err := s.settlements.HandleDeposit(ctx, event); err != nil {
			// Leave the offset; redelivery retries and dedup protects us.
			s.logger.Error("failed to handle deposit event",
				zap.String("tx_hash", event.TxHash),
				zap.Error(err))
			continue
		}
		s.commit(ctx, msg)
	}
}

func (s *DepositSubscriber) commit(ctx context.Context, msg kafka.Message) {
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		s.logger.Error("failed to commit offset", zap.Error(err))
	}
}

func (s *DepositSubscriber) Close() error {
	return s.reader.Close()
}
