package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offramp-engine/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// Store keeps sessions in Redis as a recoverable cache. Durable money state
// lives in Postgres; a lost session is rebuilt from the user's open
// transaction on next contact.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Get returns the stored session, or a fresh Idle session when none exists.
func (s *Store) Get(ctx context.Context, phone string) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return &domain.Session{Phone: phone, State: domain.SessionStateIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) Put(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.Phone, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// ListStalled scans for sessions whose wizard deadline has strictly elapsed.
// The sweep re-checks each one under the owner's lock before acting.
func (s *Store) ListStalled(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	var stalled []*domain.Session
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session %s: %w", iter.Val(), err)
		}
		var sess domain.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue // skip corrupt entries, they are rebuildable
		}
		if sess.Deadline != nil && sess.Deadline.Before(now) {
			stalled = append(stalled, &sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session scan failed: %w", err)
	}
	return stalled, nil
}
