package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT * FROM authorizations WHERE item_id = $1", []any{"card_001"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, "created_at")

	assert.Equal(t,
		"SELECT * FROM authorizations WHERE item_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		q)
	assert.Equal(t, []any{"card_001", since, 10, 20}, args)
}

func TestListQueryNoOptions(t *testing.T) {
	q, args := listQuery("SELECT * FROM cards WHERE 1=1", nil, domain.ListOpts{}, "updated_at")
	assert.Equal(t, "SELECT * FROM cards WHERE 1=1 ORDER BY updated_at DESC", q)
	assert.Empty(t, args)
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), domain.ErrNotFound)
	boom := errors.New("boom")
	assert.Equal(t, boom, notFound(boom))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/cardpay?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "cardpay"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

// liveClient connects to CARDPAY_TEST_POSTGRES_DSN and migrates, or skips.
func liveClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("CARDPAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CARDPAY_TEST_POSTGRES_DSN not set")
	}
	c, err := New(context.Background(), ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestLiveCardStore(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	store := NewCardStore(c.Pool())

	card := domain.Card{
		ID:      "card_" + uuid.NewString(),
		Name:    "Fire Dragon",
		Price:   decimal.RequireFromString("120.50"),
		Rarity:  domain.RarityLegendary,
		Stats:   map[string]int{"attack": 95},
		OwnerID: "user_1",
	}
	require.NoError(t, store.Upsert(ctx, card))

	got, err := store.GetByID(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, card.Price.Equal(got.Price))
	assert.Equal(t, 95, got.Stats["attack"])

	err = store.UpdateOwner(ctx, card.ID, "someone_else", "user_2")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, store.UpdateOwner(ctx, card.ID, "user_1", "user_2"))

	got, err = store.GetByID(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "user_2", got.OwnerID)

	_, err = store.GetByID(ctx, "missing_"+uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLiveAuthorizationStore(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	store := NewAuthorizationStore(c.Pool())

	item := "card_" + uuid.NewString()
	rec := domain.AuthorizationRecord{
		ID:       uuid.NewString(),
		ItemID:   item,
		BuyerID:  "user_2",
		SellerID: "user_1",
		Mode:     domain.SettlementAutomated,
		Decision: domain.ConsensusDecision{Approved: true, MeanScore: 80, Amount: decimal.NewFromInt(100)},
		Receipt:  &domain.SettlementReceipt{Success: true, TransactionID: "masumi_tx_1", Status: domain.SettlementCompleted},
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.Create(ctx, rec))
	require.ErrorIs(t, store.Create(ctx, rec), domain.ErrAlreadyExists)
	require.NoError(t, store.MarkOwnershipTransferred(ctx, rec.ID))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.OwnershipTransferred)
	require.NotNil(t, got.Receipt)
	assert.Equal(t, "masumi_tx_1", got.Receipt.TransactionID)

	byItem, err := store.ListByItem(ctx, item, domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, byItem, 1)

	old, err := store.ListBefore(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.NotEmpty(t, old)
}
