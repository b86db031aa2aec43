package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Rarity is the collectible tier of a card. Tiers are ordered
// common < rare < epic < legendary.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityRank = map[Rarity]int{
	RarityCommon:    1,
	RarityRare:      2,
	RarityEpic:      3,
	RarityLegendary: 4,
}

// ParseRarity normalises s into a known Rarity.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rarityRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown rarity %q", ErrInvalidRequest, s)
	}
	return r, nil
}

// Rank returns the ordinal of the tier, or 0 for an unknown value.
func (r Rarity) Rank() int { return rarityRank[r] }

// Less reports whether r is a lower tier than other.
func (r Rarity) Less(other Rarity) bool { return r.Rank() < other.Rank() }

// Card is a marketplace item as stored in the catalog.
type Card struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Rarity      Rarity          `json:"rarity"`
	Stats       map[string]int  `json:"stats"`
	OwnerID     string          `json:"owner"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PurchaseRequest is the immutable input to one authorization run.
type PurchaseRequest struct {
	ItemID      string          `json:"id"`
	ItemName    string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Rarity      Rarity          `json:"rarity"`
	Stats       map[string]int  `json:"stats"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner"`
	BuyerID     string          `json:"-"`
}

// NewPurchaseRequest builds the request for buyer acquiring card.
func NewPurchaseRequest(card Card, buyer string) PurchaseRequest {
	stats := make(map[string]int, len(card.Stats))
	for k, v := range card.Stats {
		stats[k] = v
	}
	return PurchaseRequest{
		ItemID:      card.ID,
		ItemName:    card.Name,
		Price:       card.Price,
		Rarity:      card.Rarity,
		Stats:       stats,
		Description: card.Description,
		OwnerID:     card.OwnerID,
		BuyerID:     buyer,
	}
}

// Validate checks the request invariants. Every problem is reported wrapped
// in ErrInvalidRequest.
func (r PurchaseRequest) Validate() error {
	var errs []string
	if strings.TrimSpace(r.ItemID) == "" {
		errs = append(errs, "item id is required")
	}
	if !r.Price.IsPositive() {
		errs = append(errs, fmt.Sprintf("price must be positive, got %s", r.Price))
	}
	if r.Rarity.Rank() == 0 {
		errs = append(errs, fmt.Sprintf("unknown rarity %q", r.Rarity))
	}
	for name, v := range r.Stats {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("stat %s out of range [0,100]: %d", name, v))
		}
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		errs = append(errs, "owner is required")
	}
	if strings.TrimSpace(r.BuyerID) == "" {
		errs = append(errs, "buyer is required")
	}
	if r.BuyerID != "" && strings.EqualFold(r.BuyerID, r.OwnerID) {
		errs = append(errs, "buyer already owns the item")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(errs, "; "))
	}
	return nil
}
