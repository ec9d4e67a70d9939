package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/cache"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
)

const productColumns = "id, name, images, brand, category, description, popularity, buying_price, selling_price, stock, product_is_new, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(r rowScanner) (models.Product, error) {
	var p models.Product
	err := r.Scan(&p.ID, &p.Name, &p.Images, &p.Brand, &p.Category, &p.Description, &p.Popularity,
		&p.BuyingPrice, &p.SellingPrice, &p.Stock, &p.ProductIsNew, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ProductService handles product-related operations
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   cache.Cache
	ttl     time.Duration
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics, c cache.Cache, ttl time.Duration) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache:   c,
		ttl:     ttl,
	}
}

func (s *ProductService) queryProducts(ctx context.Context, q db.Querier, query string, args ...interface{}) ([]models.Product, error) {
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListProducts returns every product, most recently updated first. When page
// and perPage are both positive only that page is returned.
func (s *ProductService) ListProducts(ctx context.Context, page, perPage int) (*models.ProductPage, error) {
	if page <= 0 || perPage <= 0 {
		products, err := s.AllProducts(ctx)
		if err != nil {
			return nil, err
		}
		return &models.ProductPage{Products: products}, nil
	}

	countQuery := "SELECT COUNT(*) FROM products"
	start := time.Now()
	var total int
	err := s.db.QueryRowContext(ctx, countQuery).Scan(&total)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", countQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM products ORDER BY updated_at DESC, id LIMIT ? OFFSET ?"
	products, err := s.queryProducts(ctx, s.db, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}

	return &models.ProductPage{
		Products: products,
		Pagination: models.Pagination{
			CurrentPage: page,
			TotalPages:  (total + perPage - 1) / perPage,
		},
	}, nil
}

// AllProducts returns every product, most recently updated first.
func (s *ProductService) AllProducts(ctx context.Context) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products ORDER BY updated_at DESC, id")
}

// NewProducts returns products flagged as new, newest first.
func (s *ProductService) NewProducts(ctx context.Context) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products WHERE product_is_new = ? ORDER BY created_at DESC, id", true)
}

// ProductsByName returns products with exactly this name.
func (s *ProductService) ProductsByName(ctx context.Context, name string) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products WHERE name = ? ORDER BY updated_at DESC, id", name)
}

// ProductsByBrand returns products of one brand.
func (s *ProductService) ProductsByBrand(ctx context.Context, brand string) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products WHERE brand = ? ORDER BY updated_at DESC, id", brand)
}

// ProductsByCategory returns products of one category.
func (s *ProductService) ProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products WHERE category = ? ORDER BY updated_at DESC, id", category)
}

// ProductsWithStock returns products whose stock equals stock exactly.
func (s *ProductService) ProductsWithStock(ctx context.Context, stock int) ([]models.Product, error) {
	return s.queryProducts(ctx, s.db, "SELECT "+productColumns+" FROM products WHERE stock = ? ORDER BY name, id", stock)
}

// Search matches key case-insensitively against name, brand, category and description.
func (s *ProductService) Search(ctx context.Context, key string) ([]models.Product, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return []models.Product{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(key)) + "%"
	query := "SELECT " + productColumns + ` FROM products
		WHERE LOWER(name) LIKE ? ESCAPE '!'
		   OR LOWER(brand) LIKE ? ESCAPE '!'
		   OR LOWER(category) LIKE ? ESCAPE '!'
		   OR LOWER(description) LIKE ? ESCAPE '!'
		ORDER BY popularity DESC, updated_at DESC, id`
	return s.queryProducts(ctx, s.db, query, pattern, pattern, pattern, pattern)
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if s.cache.Get(ctx, productKey(id), &p) {
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("cache.key", "product"),
		})...))
		s.recordView(ctx, &p)
		return &p, nil
	}
	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("cache.key", "product"),
	})...))

	gen := generation(productKey(id))
	product, err := s.GetProductTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	fill(ctx, s.cache, productKey(id), gen, product, s.ttl)
	s.recordView(ctx, product)
	return product, nil
}

// GetProductTx reads a product on q without touching the cache.
func (s *ProductService) GetProductTx(ctx context.Context, q db.Querier, id string) (*models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	start := time.Now()
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("product_id", p.ID),
		attribute.String("product_category", p.Category),
	})...))
}

func validatePrices(buying, selling decimal.Decimal) error {
	if buying.IsNegative() || selling.IsNegative() {
		return fmt.Errorf("%w: prices cannot be negative", models.ErrValidation)
	}
	return nil
}

// CreateProduct inserts a new product
func (s *ProductService) CreateProduct(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	if err := validatePrices(req.BuyingPrice, req.SellingPrice); err != nil {
		return nil, err
	}
	if req.Stock < 0 {
		return nil, fmt.Errorf("%w: stock cannot be negative", models.ErrValidation)
	}

	ts := now()
	p := models.Product{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Images:       models.StringList(req.Images),
		Brand:        req.Brand,
		Category:     req.Category,
		Description:  req.Description,
		BuyingPrice:  req.BuyingPrice,
		SellingPrice: req.SellingPrice,
		Stock:        req.Stock,
		ProductIsNew: req.ProductIsNew,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if p.Images == nil {
		p.Images = models.StringList{}
	}

	query := "INSERT INTO products (" + productColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Images, p.Brand, p.Category, p.Description, p.Popularity,
		p.BuyingPrice, p.SellingPrice, p.Stock, p.ProductIsNew, p.CreatedAt, p.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	zap.S().Infow("product created", "product_id", p.ID, "name", p.Name, "stock", p.Stock)
	s.invalidateFilters(ctx)
	s.metrics.RecordStock(ctx, p.ID, p.Stock)
	return &p, nil
}

// UpdateProduct replaces the catalog fields of a product. Stock is left to
// the inventory ledger.
func (s *ProductService) UpdateProduct(ctx context.Context, req models.UpdateProductRequest) (*models.Product, error) {
	if err := validatePrices(req.BuyingPrice, req.SellingPrice); err != nil {
		return nil, err
	}

	query := `UPDATE products SET name = ?, images = ?, brand = ?, category = ?, description = ?,
		buying_price = ?, selling_price = ?, product_is_new = ?, updated_at = ? WHERE id = ?`
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, req.Name, models.StringList(req.Images()), req.Brand, req.Category,
		req.Description, req.BuyingPrice, req.SellingPrice, req.ProductIsNew, now(), req.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("product %s: %w", req.ID, models.ErrNotFound)
	}

	invalidate(ctx, s.cache, productKey(req.ID))
	s.invalidateFilters(ctx)
	return s.GetProductTx(ctx, s.db, req.ID)
}

// DeleteProduct removes a product and returns it. Sales that reference the
// product keep their snapshots.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) (*models.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := s.GetProductTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	query := "DELETE FROM products WHERE id = ?"
	start := time.Now()
	_, err = tx.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.S().Infow("product deleted", "product_id", id)
	invalidate(ctx, s.cache, productKey(id))
	s.invalidateFilters(ctx)
	return p, nil
}

// InvalidateProducts drops cached copies of the given products.
func (s *ProductService) InvalidateProducts(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	invalidate(ctx, s.cache, keys...)
}

func (s *ProductService) invalidateFilters(ctx context.Context) {
	invalidate(ctx, s.cache, keyCategories, keyBrands, keyNames)
}

// Categories returns the distinct product categories.
func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, keyCategories, "category")
}

// Brands returns the distinct product brands.
func (s *ProductService) Brands(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, keyBrands, "brand")
}

// Names returns the distinct product names.
func (s *ProductService) Names(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, keyNames, "name")
}

// distinct reads the distinct values of column; column is never user input.
func (s *ProductService) distinct(ctx context.Context, key, column string) ([]string, error) {
	var values []string
	if s.cache.Get(ctx, key, &values) {
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("cache.key", key),
		})...))
		return values, nil
	}
	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("cache.key", key),
	})...))

	gen := generation(key)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM products ORDER BY %s", column, column)
	values, err := s.queryStrings(ctx, "products", query)
	if err != nil {
		return nil, err
	}
	fill(ctx, s.cache, key, gen, values, s.ttl)
	return values, nil
}

func (s *ProductService) queryStrings(ctx context.Context, table, query string, args ...interface{}) ([]string, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", table, query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CarouselImages returns the distinct carousel image URLs, newest first.
func (s *ProductService) CarouselImages(ctx context.Context) ([]string, error) {
	var urls []string
	if s.cache.Get(ctx, keyImages, &urls) {
		return urls, nil
	}
	gen := generation(keyImages)
	urls, err := s.queryStrings(ctx, "images", "SELECT image_url FROM images GROUP BY image_url ORDER BY MAX(created_at) DESC")
	if err != nil {
		return nil, err
	}
	fill(ctx, s.cache, keyImages, gen, urls, s.ttl)
	return urls, nil
}

// AddCarouselImage stores a new carousel image.
func (s *ProductService) AddCarouselImage(ctx context.Context, url string) (*models.Image, error) {
	img := models.Image{ID: uuid.NewString(), ImageURL: url, CreatedAt: now()}

	query := "INSERT INTO images (id, image_url, created_at) VALUES (?, ?, ?)"
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, img.ID, img.ImageURL, img.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "images", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", err)
	}

	invalidate(ctx, s.cache, keyImages)
	return &img, nil
}
