package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// CardStore implements domain.CardStore using PostgreSQL.
type CardStore struct {
	pool *pgxpool.Pool
}

// NewCardStore creates a new CardStore backed by the given connection pool.
func NewCardStore(pool *pgxpool.Pool) *CardStore {
	return &CardStore{pool: pool}
}

// Prices travel as text so NUMERIC precision survives the round trip.
const cardSelectCols = `id, name, description, price::text, rarity, stats,
	owner_id, image_url, created_at, updated_at`

func scanCard(row pgx.Row) (domain.Card, error) {
	var (
		c     domain.Card
		price string
		stats []byte
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.Description, &price, &c.Rarity, &stats,
		&c.OwnerID, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return domain.Card{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Card{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	c.Price = p
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &c.Stats); err != nil {
			return domain.Card{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	return c, nil
}

// Upsert inserts the card or replaces everything but its creation time.
func (s *CardStore) Upsert(ctx context.Context, c domain.Card) error {
	stats, err := json.Marshal(c.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal card stats %s: %w", c.ID, err)
	}

	const query = `
		INSERT INTO cards (id, name, description, price, rarity, stats, owner_id, image_url)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			price       = EXCLUDED.price,
			rarity      = EXCLUDED.rarity,
			stats       = EXCLUDED.stats,
			owner_id    = EXCLUDED.owner_id,
			image_url   = EXCLUDED.image_url,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		c.ID, c.Name, c.Description, c.Price.String(), string(c.Rarity), stats, c.OwnerID, c.ImageURL,
	); err != nil {
		return fmt.Errorf("postgres: upsert card %s: %w", c.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown card.
func (s *CardStore) GetByID(ctx context.Context, id string) (domain.Card, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cardSelectCols+` FROM cards WHERE id = $1`, id)
	c, err := scanCard(row)
	if err != nil {
		return domain.Card{}, fmt.Errorf("postgres: get card %s: %w", id, notFound(err))
	}
	return c, nil
}

// List returns cards, most recently updated first.
func (s *CardStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Card, error) {
	query, args := listQuery(`SELECT `+cardSelectCols+` FROM cards WHERE 1=1`, nil, opts, "updated_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cards rows: %w", err)
	}
	return cards, nil
}

// Count returns the number of cards.
func (s *CardStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count cards: %w", err)
	}
	return n, nil
}

// UpdateOwner reassigns the card only while expectedOwner still holds it;
// otherwise it reports domain.ErrNotFound.
func (s *CardStore) UpdateOwner(ctx context.Context, id, expectedOwner, newOwner string) error {
	const query = `
		UPDATE cards SET owner_id = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`

	tag, err := s.pool.Exec(ctx, query, id, expectedOwner, newOwner)
	if err != nil {
		return fmt.Errorf("postgres: update owner %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update owner %s: owner is not %q: %w", id, expectedOwner, domain.ErrNotFound)
	}
	return nil
}

var _ domain.CardStore = (*CardStore)(nil)
