package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryBakery       Category = "BAKERY"
	CategoryViennoiserie Category = "PASTRY_VIENNOISERIE"
	CategoryPastry       Category = "PASTRY"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBakery, CategoryViennoiserie, CategoryPastry:
		return true
	}
	return false
}

type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusOutOfStock Status = "OUT_OF_STOCK"
	StatusArchived   Status = "ARCHIVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOutOfStock, StatusArchived:
		return true
	}
	return false
}

type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Description     *string         `json:"description"`
	Category        Category        `json:"category"`
	Status          Status          `json:"status"`
	Price           decimal.Decimal `json:"price"`
	Image           *string         `json:"image"`
	Images          []string        `json:"images"`
	Weight          *float64        `json:"weight"`
	IsAvailable     bool            `json:"isAvailable"`
	Stock           *int            `json:"stock"` // nil = unlimited
	MetaTitle       *string         `json:"metaTitle"`
	MetaDescription *string         `json:"metaDescription"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Purchasable reports whether the product can appear on a new order.
// Both gates must hold: the sales flag and the catalog status.
func (p Product) Purchasable() bool {
	return p.IsAvailable && p.Status == StatusAvailable
}

type CreateInput struct {
	Name            string
	Slug            string // generated from Name when empty
	Description     *string
	Category        Category
	Status          Status
	Price           decimal.Decimal
	Image           *string
	Images          []string
	Weight          *float64
	IsAvailable     *bool
	Stock           *int
	MetaTitle       *string
	MetaDescription *string
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name            *string
	Slug            *string
	Description     *string
	Category        *Category
	Status          *Status
	Price           *decimal.Decimal
	Image           *string
	Images          []string
	Weight          *float64
	IsAvailable     *bool
	Stock           *int
	ClearStock      bool // set stock to NULL (unlimited)
	MetaTitle       *string
	MetaDescription *string
}

type ListFilter struct {
	Category  *Category
	Status    *Status
	Available *bool
	Search    string
	Page      int
	Limit     int
}
