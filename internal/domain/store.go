package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CardStore is the catalog of marketplace items.
type CardStore interface {
	Upsert(ctx context.Context, card Card) error
	GetByID(ctx context.Context, id string) (Card, error)
	List(ctx context.Context, opts ListOpts) ([]Card, error)
	Count(ctx context.Context) (int64, error)
	// UpdateOwner moves the card to newOwner only while it is still owned
	// by expectedOwner.
	UpdateOwner(ctx context.Context, id, expectedOwner, newOwner string) error
}

// AuthorizationStore persists purchase authorization history.
type AuthorizationStore interface {
	Create(ctx context.Context, rec AuthorizationRecord) error
	MarkOwnershipTransferred(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (AuthorizationRecord, error)
	List(ctx context.Context, opts ListOpts) ([]AuthorizationRecord, error)
	ListByItem(ctx context.Context, itemID string, opts ListOpts) ([]AuthorizationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuthorizationRecord, error)
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
