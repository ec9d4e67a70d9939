package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/cache"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
)

// InventoryService owns product stock levels. Every change is a single
// conditional statement so concurrent requests can never drive stock negative.
type InventoryService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   cache.Cache
}

// NewInventoryService creates a new inventory service
func NewInventoryService(db *db.DB, metrics *metrics.AppMetrics, c cache.Cache) *InventoryService {
	return &InventoryService{
		db:      db,
		metrics: metrics,
		cache:   c,
	}
}

// MonitorOutOfStock refreshes the out-of-stock gauge every interval until ctx is done.
func (s *InventoryService) MonitorOutOfStock(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RefreshOutOfStock(ctx); err != nil {
				zap.S().Warnw("out of stock refresh failed", "error", err)
			}
		}
	}
}

// RefreshOutOfStock counts products with no stock and records the gauge.
func (s *InventoryService) RefreshOutOfStock(ctx context.Context) (int, error) {
	query := "SELECT COUNT(*) FROM products WHERE stock = 0"
	start := time.Now()
	var count int
	err := s.db.QueryRowContext(ctx, query).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count out of stock products: %w", err)
	}
	s.metrics.OutOfStockProducts.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
	return count, nil
}

// GetStock returns the current stock of a product
func (s *InventoryService) GetStock(ctx context.Context, productID string) (int, error) {
	return s.stockTx(ctx, s.db, productID)
}

func (s *InventoryService) stockTx(ctx context.Context, q db.Querier, productID string) (int, error) {
	query := "SELECT stock FROM products WHERE id = ?"
	start := time.Now()
	var stock int
	err := q.QueryRowContext(ctx, query, productID).Scan(&stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get stock: %w", err)
	}
	return stock, nil
}

// Decrement takes qty units of a product out of stock.
func (s *InventoryService) Decrement(ctx context.Context, productID string, qty int) error {
	stock, err := s.DecrementTx(ctx, s.db, productID, qty)
	if err != nil {
		return err
	}
	s.afterChange(ctx, productID, stock)
	return nil
}

// DecrementTx runs the decrement on q, normally the caller's transaction, and
// returns the remaining stock. The update only matches when enough stock is
// left; a miss is resolved by reading the row on the same q.
func (s *InventoryService) DecrementTx(ctx context.Context, q db.Querier, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	query := "UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?"
	start := time.Now()
	result, err := q.ExecContext(ctx, query, qty, now(), productID, qty)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	stock, err := s.stockTx(ctx, q, productID)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, &models.StockError{ProductID: productID, Requested: qty, Available: stock}
	}
	return stock, nil
}

// Increment puts qty units of a product back into stock.
func (s *InventoryService) Increment(ctx context.Context, productID string, qty int) error {
	if err := s.IncrementTx(ctx, s.db, productID, qty); err != nil {
		return err
	}
	if stock, err := s.GetStock(ctx, productID); err == nil {
		s.afterChange(ctx, productID, stock)
	}
	return nil
}

// IncrementTx runs the increment on q.
func (s *InventoryService) IncrementTx(ctx context.Context, q db.Querier, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	query := "UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?"
	start := time.Now()
	result, err := q.ExecContext(ctx, query, qty, now(), productID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	return nil
}

// SetStock overwrites the stock of a product with an absolute value.
func (s *InventoryService) SetStock(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: stock cannot be negative", models.ErrValidation)
	}

	query := "UPDATE products SET stock = ?, updated_at = ? WHERE id = ?"
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, qty, now(), productID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}

	zap.S().Infow("stock set", "product_id", productID, "stock", qty)
	s.afterChange(ctx, productID, qty)
	return nil
}

func (s *InventoryService) afterChange(ctx context.Context, productID string, stock int) {
	invalidate(ctx, s.cache, productKey(productID))
	s.metrics.RecordStock(ctx, productID, stock)
}
