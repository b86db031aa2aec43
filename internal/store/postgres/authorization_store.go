package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cardpay/internal/domain"
)

// AuthorizationStore implements domain.AuthorizationStore using PostgreSQL.
// The full decision and receipt are kept as JSONB; the columns beside them
// exist for filtering.
type AuthorizationStore struct {
	pool *pgxpool.Pool
}

// NewAuthorizationStore creates a new AuthorizationStore backed by the given
// connection pool.
func NewAuthorizationStore(pool *pgxpool.Pool) *AuthorizationStore {
	return &AuthorizationStore{pool: pool}
}

const authSelectCols = `id, item_id, item_name, buyer_id, seller_id, mode,
	decision, receipt, ownership_transferred, created_at`

func scanAuthorization(row pgx.Row) (domain.AuthorizationRecord, error) {
	var (
		r        domain.AuthorizationRecord
		decision []byte
		receipt  []byte
	)
	if err := row.Scan(
		&r.ID, &r.ItemID, &r.ItemName, &r.BuyerID, &r.SellerID, &r.Mode,
		&decision, &receipt, &r.OwnershipTransferred, &r.CreatedAt,
	); err != nil {
		return domain.AuthorizationRecord{}, err
	}
	if err := json.Unmarshal(decision, &r.Decision); err != nil {
		return domain.AuthorizationRecord{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	if len(receipt) > 0 {
		var rc domain.SettlementReceipt
		if err := json.Unmarshal(receipt, &rc); err != nil {
			return domain.AuthorizationRecord{}, fmt.Errorf("unmarshal receipt: %w", err)
		}
		r.Receipt = &rc
	}
	return r, nil
}

// Create inserts rec. A duplicate ID yields domain.ErrAlreadyExists.
func (s *AuthorizationStore) Create(ctx context.Context, rec domain.AuthorizationRecord) error {
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision %s: %w", rec.ID, err)
	}
	var (
		receipt []byte
		txID    string
	)
	if rec.Receipt != nil {
		if receipt, err = json.Marshal(rec.Receipt); err != nil {
			return fmt.Errorf("postgres: marshal receipt %s: %w", rec.ID, err)
		}
		txID = rec.Receipt.TransactionID
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO authorizations (
			id, item_id, item_name, buyer_id, seller_id, mode,
			approved, mean_score, amount, decision, receipt, transaction_id,
			ownership_transferred, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9::text::numeric, $10, $11, $12,
			$13, $14
		)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.ItemID, rec.ItemName, rec.BuyerID, rec.SellerID, string(rec.Mode),
		rec.Decision.Approved, rec.Decision.MeanScore, rec.Decision.Amount.String(), decision, receipt, txID,
		rec.OwnershipTransferred, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create authorization %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create authorization %s: %w", rec.ID, err)
	}
	return nil
}

// MarkOwnershipTransferred flags the record once the card changed hands.
func (s *AuthorizationStore) MarkOwnershipTransferred(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authorizations SET ownership_transferred = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark transferred %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark transferred %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown record.
func (s *AuthorizationStore) GetByID(ctx context.Context, id string) (domain.AuthorizationRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+authSelectCols+` FROM authorizations WHERE id = $1`, id)
	r, err := scanAuthorization(row)
	if err != nil {
		return domain.AuthorizationRecord{}, fmt.Errorf("postgres: get authorization %s: %w", id, notFound(err))
	}
	return r, nil
}

// List returns records newest first.
func (s *AuthorizationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuthorizationRecord, error) {
	query, args := listQuery(`SELECT `+authSelectCols+` FROM authorizations WHERE 1=1`, nil, opts, "created_at")
	return s.query(ctx, "list authorizations", query, args...)
}

// ListByItem returns one card's records newest first.
func (s *AuthorizationStore) ListByItem(ctx context.Context, itemID string, opts domain.ListOpts) ([]domain.AuthorizationRecord, error) {
	query, args := listQuery(`SELECT `+authSelectCols+` FROM authorizations WHERE item_id = $1`, []any{itemID}, opts, "created_at")
	return s.query(ctx, "list authorizations for "+itemID, query, args...)
}

// ListBefore returns every record created before the cutoff, oldest first.
func (s *AuthorizationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuthorizationRecord, error) {
	const query = `SELECT ` + authSelectCols + ` FROM authorizations WHERE created_at < $1 ORDER BY created_at ASC`
	return s.query(ctx, "list authorizations before cutoff", query, before)
}

func (s *AuthorizationStore) query(ctx context.Context, op, query string, args ...any) ([]domain.AuthorizationRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var recs []domain.AuthorizationRecord
	for rows.Next() {
		r, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return recs, nil
}

var _ domain.AuthorizationStore = (*AuthorizationStore)(nil)
