package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/vcledger/pkg/redis"
)

// Manager tracks processed deliveries per consumer using Redis SETNX with a TTL.
// Keys follow the `vcl:idempotency:processed:<consumer>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that marks deliveries as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMarkProcessed returns true if the delivery has already been processed
// and otherwise marks it as processed.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	full, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, full, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete clears the marker so a failed delivery can be retried.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	full, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, full)
}

func (m *Manager) processedKey(consumer, key string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if key == "" {
		return "", errors.New("delivery key is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("processed:%s", consumer), key), nil
}
