package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StringList is an ordered list of strings stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type %T for StringList", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Product represents a product in the catalog
type Product struct {
	ID           string          `json:"_id"`
	Name         string          `json:"name"`
	Images       StringList      `json:"images"`
	Brand        string          `json:"brand"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	Popularity   int             `json:"popularity"`
	BuyingPrice  decimal.Decimal `json:"buyingPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Stock        int             `json:"stock"`
	ProductIsNew bool            `json:"productIsNew"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Cover returns the first product image, or "" when there is none.
func (p *Product) Cover() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Pagination describes one page of a product listing.
type Pagination struct {
	CurrentPage int `json:"currentPage,omitempty"`
	TotalPages  int `json:"totalPages,omitempty"`
}

// ProductPage is the response shape of the product listing.
type ProductPage struct {
	Products   []Product  `json:"products"`
	Pagination Pagination `json:"pagination"`
}

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusConfirmed SaleStatus = "confirmed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// SaleLineItem is a copy of the product data taken when the sale was submitted.
// It is never refreshed from the products table.
type SaleLineItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Qty       int             `json:"qty"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
}

// LineTotal returns Qty * Price.
func (li SaleLineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// Sale represents one checkout
type Sale struct {
	ID          string          `json:"_id"`
	UserID      string          `json:"user"`
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Items       []SaleLineItem  `json:"salesItems"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Status      SaleStatus      `json:"status"`
	IsConfirmed bool            `json:"isConfirmed"`
	ConfirmedAt *time.Time      `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// User represents a user account
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GoogleID     string    `json:"googleId,omitempty"`
	GoogleImage  string    `json:"googleImage,omitempty"`
	IsAdmin      bool      `json:"isAdmin"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	Active       bool      `json:"active"`
	FirstLogin   bool      `json:"firstLogin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AuthResponse is a user together with a freshly issued token.
type AuthResponse struct {
	User
	Token string `json:"token"`
}

// Image is a carousel image
type Image struct {
	ID        string    `json:"_id"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}
