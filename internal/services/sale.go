package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/events"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
)

const saleColumns = "id, user_id, username, email, subtotal, total_price, status, is_confirmed, confirmed_at, cancelled_at, created_at, updated_at"

// SaleService runs checkout and the admin side of the sale lifecycle.
type SaleService struct {
	db        *db.DB
	metrics   *metrics.AppMetrics
	inventory *InventoryService
	products  *ProductService
	events    events.Publisher

	// publishTimeout bounds how long a committed sale waits on the publisher.
	publishTimeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

// NewSaleService creates a new sale service
func NewSaleService(db *db.DB, metrics *metrics.AppMetrics, inventory *InventoryService, products *ProductService, publisher events.Publisher) *SaleService {
	return &SaleService{
		db:        db,
		metrics:   metrics,
		inventory: inventory,
		products:  products,
		events:    publisher,

		publishTimeout: defaultPublishTimeout,
	}
}

// SubmitCheckout turns a cart into a pending sale. Stock for every line is
// taken and the sale is written in one transaction: if any line fails nothing
// is persisted and a *models.LineItemError names the line.
func (s *SaleService) SubmitCheckout(ctx context.Context, actor *auth.Principal, items []models.CheckoutItem) (*models.Sale, error) {
	if actor == nil {
		return nil, auth.ErrUnauthenticated
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", models.ErrValidation)
	}
	for _, item := range items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: line item without product id", models.ErrValidation)
		}
		if item.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", models.ErrValidation, item.ProductID)
		}
	}

	// lock rows in product id order so overlapping carts cannot deadlock
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].ProductID < items[order[b]].ProductID
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lines := make([]models.SaleLineItem, len(items))
	stockLeft := make(map[string]int, len(items))
	for _, i := range order {
		item := items[i]

		remaining, err := s.inventory.DecrementTx(ctx, tx, item.ProductID, item.Qty)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInsufficientStock) {
				s.recordRejected(ctx, err)
				zap.S().Infow("checkout rejected", "user_id", actor.UserID, "product_id", item.ProductID, "qty", item.Qty, "reason", err)
				return nil, &models.LineItemError{ProductID: item.ProductID, Err: err}
			}
			return nil, err
		}
		stockLeft[item.ProductID] = remaining

		p, err := s.products.GetProductTx(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		lines[i] = models.SaleLineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Qty:       item.Qty,
			Image:     p.Cover(),
			Price:     p.SellingPrice,
		}
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}

	ts := now()
	sale := &models.Sale{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		Username:   actor.Name,
		Email:      actor.Email,
		Items:      lines,
		Subtotal:   subtotal,
		TotalPrice: subtotal,
		Status:     models.SaleStatusPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	if err := s.insertSaleTx(ctx, tx, sale); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	ids := make([]string, 0, len(stockLeft))
	for id, stock := range stockLeft {
		ids = append(ids, id)
		s.metrics.RecordStock(ctx, id, stock)
	}
	s.products.InvalidateProducts(ctx, ids...)
	s.recordSale(ctx, s.metrics.SalesCreated, sale)
	s.publish(ctx, events.SaleCreated, sale)

	zap.S().Infow("sale created", "sale_id", sale.ID, "user_id", sale.UserID, "items", len(sale.Items), "total", sale.TotalPrice.StringFixed(2))
	return sale, nil
}

func (s *SaleService) insertSaleTx(ctx context.Context, tx *sql.Tx, sale *models.Sale) error {
	query := "INSERT INTO sales (" + saleColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	start := time.Now()
	_, err := tx.ExecContext(ctx, query, sale.ID, sale.UserID, sale.Username, sale.Email, sale.Subtotal, sale.TotalPrice,
		string(sale.Status), sale.IsConfirmed, sale.ConfirmedAt, sale.CancelledAt, sale.CreatedAt, sale.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "sales", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}

	itemQuery := "INSERT INTO sale_items (sale_id, position, product_id, name, category, qty, image, price) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	for pos, line := range sale.Items {
		start = time.Now()
		_, err = tx.ExecContext(ctx, itemQuery, sale.ID, pos, line.ProductID, line.Name, line.Category, line.Qty, line.Image, line.Price)
		s.metrics.RecordDBQuery(ctx, "INSERT", "sale_items", itemQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to create sale item: %w", err)
		}
	}
	return nil
}

// ConfirmSale marks a pending sale as confirmed. Only one of several
// concurrent confirmations succeeds; the rest get ErrAlreadyConfirmed.
func (s *SaleService) ConfirmSale(ctx context.Context, actor *auth.Principal, saleID string) (*models.Sale, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}

	ts := now()
	query := "UPDATE sales SET status = ?, is_confirmed = ?, confirmed_at = ?, updated_at = ? WHERE id = ? AND status = ?"
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, string(models.SaleStatusConfirmed), true, ts, ts, saleID, string(models.SaleStatusPending))
	s.metrics.RecordDBQuery(ctx, "UPDATE", "sales", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm sale: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.transitionError(ctx, s.db, saleID)
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	s.recordSale(ctx, s.metrics.SalesConfirmed, sale)
	s.publish(ctx, events.SaleConfirmed, sale)
	zap.S().Infow("sale confirmed", "sale_id", saleID, "admin_id", actor.UserID)
	return sale, nil
}

// CancelSale moves a pending sale to cancelled and returns its stock.
// Lines whose product has since been deleted are skipped.
func (s *SaleService) CancelSale(ctx context.Context, actor *auth.Principal, saleID string) (*models.Sale, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	query := "UPDATE sales SET status = ?, cancelled_at = ?, updated_at = ? WHERE id = ? AND status = ?"
	start := time.Now()
	result, err := tx.ExecContext(ctx, query, string(models.SaleStatusCancelled), ts, ts, saleID, string(models.SaleStatusPending))
	s.metrics.RecordDBQuery(ctx, "UPDATE", "sales", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel sale: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.transitionError(ctx, tx, saleID)
	}

	sale, err := s.getSale(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}

	restocked := make([]string, 0, len(sale.Items))
	for _, line := range sale.Items {
		err := s.inventory.IncrementTx(ctx, tx, line.ProductID, line.Qty)
		if errors.Is(err, models.ErrNotFound) {
			zap.S().Warnw("restock skipped, product no longer exists", "sale_id", saleID, "product_id", line.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
		restocked = append(restocked, line.ProductID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.products.InvalidateProducts(ctx, restocked...)
	s.metrics.SalesCancelled.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
	s.publish(ctx, events.SaleCancelled, sale)
	zap.S().Infow("sale cancelled", "sale_id", saleID, "admin_id", actor.UserID, "restocked", len(restocked))
	return sale, nil
}

// DeleteSale removes a sale and its line items and returns what was deleted.
// Stock is not restored.
func (s *SaleService) DeleteSale(ctx context.Context, actor *auth.Principal, saleID string) (*models.Sale, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale, err := s.getSale(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []struct{ table, query string }{
		{"sale_items", "DELETE FROM sale_items WHERE sale_id = ?"},
		{"sales", "DELETE FROM sales WHERE id = ?"},
	} {
		start := time.Now()
		_, err := tx.ExecContext(ctx, stmt.query, saleID)
		s.metrics.RecordDBQuery(ctx, "DELETE", stmt.table, stmt.query, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to delete from %s: %w", stmt.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(ctx, events.SaleDeleted, sale)
	zap.S().Infow("sale deleted", "sale_id", saleID, "admin_id", actor.UserID)
	return sale, nil
}

// ListSales returns every sale, newest first.
func (s *SaleService) ListSales(ctx context.Context, actor *auth.Principal) ([]models.Sale, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}

	query := "SELECT " + saleColumns + " FROM sales ORDER BY created_at DESC, id DESC"
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "sales", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}

	sales := []models.Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]interface{}, len(sales))
	for i := range sales {
		ids[i] = sales[i].ID
	}
	items, err := s.loadItems(ctx, s.db, ids...)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

// GetSale returns a sale with its line items
func (s *SaleService) GetSale(ctx context.Context, saleID string) (*models.Sale, error) {
	return s.getSale(ctx, s.db, saleID)
}

func (s *SaleService) getSale(ctx context.Context, q db.Querier, saleID string) (*models.Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales WHERE id = ?"
	start := time.Now()
	sale, err := scanSale(q.QueryRowContext(ctx, query, saleID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "sales", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", saleID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	items, err := s.loadItems(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items[saleID]
	return &sale, nil
}

// loadItems returns the line items of the given sales keyed by sale id, in
// their original order.
func (s *SaleService) loadItems(ctx context.Context, q db.Querier, saleIDs ...interface{}) (map[string][]models.SaleLineItem, error) {
	query := fmt.Sprintf("SELECT sale_id, product_id, name, category, qty, image, price FROM sale_items WHERE sale_id IN (%s) ORDER BY sale_id, position", placeholders(len(saleIDs)))
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, saleIDs...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "sale_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]models.SaleLineItem, len(saleIDs))
	for _, id := range saleIDs {
		items[id.(string)] = []models.SaleLineItem{}
	}
	for rows.Next() {
		var saleID string
		var li models.SaleLineItem
		if err := rows.Scan(&saleID, &li.ProductID, &li.Name, &li.Category, &li.Qty, &li.Image, &li.Price); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		items[saleID] = append(items[saleID], li)
	}
	return items, rows.Err()
}

func scanSale(r rowScanner) (models.Sale, error) {
	var sale models.Sale
	var status string
	var confirmedAt, cancelledAt sql.NullTime
	err := r.Scan(&sale.ID, &sale.UserID, &sale.Username, &sale.Email, &sale.Subtotal, &sale.TotalPrice,
		&status, &sale.IsConfirmed, &confirmedAt, &cancelledAt, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return sale, err
	}
	sale.Status = models.SaleStatus(status)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		sale.ConfirmedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		sale.CancelledAt = &t
	}
	return sale, nil
}

// transitionError explains why a pending-only update matched no row.
func (s *SaleService) transitionError(ctx context.Context, q db.Querier, saleID string) error {
	query := "SELECT status FROM sales WHERE id = ?"
	start := time.Now()
	var status string
	err := q.QueryRowContext(ctx, query, saleID).Scan(&status)
	s.metrics.RecordDBQuery(ctx, "SELECT", "sales", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("sale %s: %w", saleID, models.ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to get sale status: %w", err)
	case models.SaleStatus(status) == models.SaleStatusConfirmed:
		return fmt.Errorf("sale %s: %w", saleID, models.ErrAlreadyConfirmed)
	case models.SaleStatus(status) == models.SaleStatusCancelled:
		return fmt.Errorf("sale %s: %w", saleID, models.ErrSaleCancelled)
	default:
		return fmt.Errorf("sale %s in unexpected status %q: %w", saleID, status, models.ErrConflict)
	}
}

// recordSale adds one to counter and the sale total to revenue, per category.
func (s *SaleService) recordSale(ctx context.Context, counter metric.Int64Counter, sale *models.Sale) {
	revenue := make(map[string]decimal.Decimal)
	for _, line := range sale.Items {
		revenue[line.Category] = revenue[line.Category].Add(line.LineTotal())
	}

	for category, amount := range revenue {
		attrs := s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("sale_status", string(sale.Status)),
			attribute.String("product_category", category),
		})
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
		s.metrics.RevenueTotal.Add(ctx, amount.InexactFloat64(), metric.WithAttributes(attrs...))
	}
}

func (s *SaleService) recordRejected(ctx context.Context, err error) {
	reason := "not_found"
	if errors.Is(err, models.ErrInsufficientStock) {
		reason = "insufficient_stock"
	}
	s.metrics.CheckoutsRejected.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("reason", reason),
	})...))
}

// publish sends a sale event. The sale is already committed, so failures are
// only logged. The event outlives a cancelled request but never holds the
// response longer than publishTimeout.
func (s *SaleService) publish(ctx context.Context, eventType string, sale *models.Sale) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.events.PublishSale(ctx, events.NewSaleEvent(eventType, sale)); err != nil {
		zap.S().Errorw("failed to publish sale event", "type", eventType, "sale_id", sale.ID, "error", err)
	}
}
