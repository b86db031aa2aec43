package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/cardpay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultCardTTL is how long a cached card lives when no TTL is configured.
const DefaultCardTTL = 5 * time.Minute

// CardCache implements domain.CardCache with one JSON string per card.
//
// Key schema:
//
//	card:{id} - JSON encoded domain.Card
type CardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCardCache creates a CardCache. A non-positive ttl uses DefaultCardTTL.
func NewCardCache(c *Client, ttl time.Duration) *CardCache {
	if ttl <= 0 {
		ttl = DefaultCardTTL
	}
	return &CardCache{rdb: c.Underlying(), ttl: ttl}
}

func cardKey(id string) string { return "card:" + id }

// Set stores card for the cache TTL.
func (cc *CardCache) Set(ctx context.Context, card domain.Card) error {
	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("redis: marshal card %s: %w", card.ID, err)
	}
	if err := cc.rdb.Set(ctx, cardKey(card.ID), data, cc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set card %s: %w", card.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (cc *CardCache) Get(ctx context.Context, id string) (domain.Card, error) {
	data, err := cc.rdb.Get(ctx, cardKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Card{}, domain.ErrNotFound
		}
		return domain.Card{}, fmt.Errorf("redis: get card %s: %w", id, err)
	}

	var card domain.Card
	if err := json.Unmarshal(data, &card); err != nil {
		return domain.Card{}, fmt.Errorf("redis: unmarshal card %s: %w", id, err)
	}
	return card, nil
}

// Invalidate drops the cached card.
func (cc *CardCache) Invalidate(ctx context.Context, id string) error {
	if err := cc.rdb.Del(ctx, cardKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate card %s: %w", id, err)
	}
	return nil
}

var _ domain.CardCache = (*CardCache)(nil)
