package models

import "github.com/shopspring/decimal"

// CheckoutItem is one cart line submitted at checkout.
// Only the product reference and quantity are trusted.
type CheckoutItem struct {
	ProductID string `json:"id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

// CheckoutRequest is the body of POST /api/sales/confirm-sales
type CheckoutRequest struct {
	SalesItems []CheckoutItem `json:"salesItems" validate:"required,min=1,dive"`
}

// CheckoutResponse is returned after a successful checkout
type CheckoutResponse struct {
	SaleID string `json:"saleId"`
}

// CreateProductRequest is the body of POST /api/products
type CreateProductRequest struct {
	Name         string          `json:"name" validate:"required"`
	Images       []string        `json:"images"`
	Brand        string          `json:"brand" validate:"required"`
	Category     string          `json:"category" validate:"required"`
	Description  string          `json:"description" validate:"required"`
	BuyingPrice  decimal.Decimal `json:"buyingPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Stock        int             `json:"stock" validate:"gte=0"`
	ProductIsNew bool            `json:"productIsNew"`
}

// UpdateProductRequest is the body of PUT /api/products. Stock is not part
// of it: quantities only move through the inventory ledger and
// PUT /api/stock/update/{id}, so an edit opened before a sale cannot undo it.
type UpdateProductRequest struct {
	ID           string          `json:"id" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	ImageOne     string          `json:"imageOne"`
	ImageTwo     string          `json:"imageTwo"`
	Brand        string          `json:"brand" validate:"required"`
	Category     string          `json:"category" validate:"required"`
	Description  string          `json:"description" validate:"required"`
	BuyingPrice  decimal.Decimal `json:"buyingPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	ProductIsNew bool            `json:"productIsNew"`
}

// Images returns the non-empty image fields in order.
func (r UpdateProductRequest) Images() []string {
	images := make([]string, 0, 2)
	for _, img := range []string{r.ImageOne, r.ImageTwo} {
		if img != "" {
			images = append(images, img)
		}
	}
	return images
}

// SetStockRequest is the body of PUT /api/stock/update/{id}
type SetStockRequest struct {
	Stock *int `json:"stock" validate:"required,gte=0"`
}

// CreateImageRequest is the body of POST /api/images
type CreateImageRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
}

// RegisterRequest is the body of POST /api/users/register
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest is the body of POST /api/users/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// GoogleLoginRequest is the body of POST /api/users/google-login
type GoogleLoginRequest struct {
	GoogleID    string `json:"googleId" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Name        string `json:"name" validate:"required"`
	GoogleImage string `json:"googleImage"`
}

// PasswordResetRequest is the body of POST /api/users/password-reset-request
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordResetBody is the body of POST /api/users/password-reset
type PasswordResetBody struct {
	Password string `json:"password" validate:"required,min=6"`
}
