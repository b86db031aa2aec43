package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// CardService reads and updates the card catalog through the cache.
type CardService struct {
	cards  domain.CardStore
	cache  domain.CardCache
	logger *slog.Logger
}

// NewCardService creates a CardService. cache may be nil.
func NewCardService(cards domain.CardStore, cache domain.CardCache, logger *slog.Logger) *CardService {
	return &CardService{
		cards:  cards,
		cache:  cache,
		logger: logger,
	}
}

// GetCard retrieves a card by ID, checking the cache first and falling back
// to the store on a miss.
func (s *CardService) GetCard(ctx context.Context, id string) (domain.Card, error) {
	if s.cache != nil {
		if c, err := s.cache.Get(ctx, id); err == nil {
			return c, nil
		}
	}

	c, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return domain.Card{}, fmt.Errorf("card_service: get by id %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, c); cacheErr != nil {
			s.logger.WarnContext(ctx, "card_service: cache set failed",
				slog.String("card_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return c, nil
}

// ListCards returns a page of the catalog.
func (s *CardService) ListCards(ctx context.Context, opts domain.ListOpts) ([]domain.Card, error) {
	cards, err := s.cards.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("card_service: list: %w", err)
	}
	return cards, nil
}

// CountCards returns the catalog size.
func (s *CardService) CountCards(ctx context.Context) (int64, error) {
	n, err := s.cards.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("card_service: count: %w", err)
	}
	return n, nil
}

// SaveCards upserts cards and drops their cached copies.
func (s *CardService) SaveCards(ctx context.Context, cards []domain.Card) error {
	for _, c := range cards {
		if err := s.cards.Upsert(ctx, c); err != nil {
			return fmt.Errorf("card_service: upsert %q: %w", c.ID, err)
		}
		s.invalidate(ctx, c.ID)
	}
	s.logger.InfoContext(ctx, "card_service: saved cards", slog.Int("count", len(cards)))
	return nil
}

// TransferOwnership moves card id from seller to buyer. It fails with
// domain.ErrNotFound when the card is no longer owned by seller.
func (s *CardService) TransferOwnership(ctx context.Context, id, seller, buyer string) error {
	if strings.TrimSpace(buyer) == "" {
		return fmt.Errorf("card_service: transfer %q: %w: buyer is required", id, domain.ErrInvalidRequest)
	}
	if err := s.cards.UpdateOwner(ctx, id, seller, buyer); err != nil {
		return fmt.Errorf("card_service: transfer %q: %w", id, err)
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CardService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		// The entry expires on its own.
		s.logger.WarnContext(ctx, "card_service: cache invalidate failed",
			slog.String("card_id", id),
			slog.String("error", err.Error()),
		)
	}
}
