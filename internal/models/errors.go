package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrAlreadyConfirmed   = errors.New("sale already confirmed")
	ErrSaleCancelled      = errors.New("sale is cancelled")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// StockError reports a decrement that would take stock below zero.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// LineItemError identifies the cart line that stopped a checkout.
// Nothing from the checkout has been persisted when it is returned.
type LineItemError struct {
	ProductID string
	Err       error
}

func (e *LineItemError) Error() string {
	return fmt.Sprintf("line item %s: %v", e.ProductID, e.Err)
}

func (e *LineItemError) Unwrap() error { return e.Err }
