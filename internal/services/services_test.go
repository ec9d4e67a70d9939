package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/cache"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/db/dbtest"
	"github.com/gncyclemart/shop-api/internal/events"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
)

type sentMail struct {
	kind, to, token string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) SendVerification(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{"verify", to, token})
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{"reset", to, token})
	return nil
}

type testEnv struct {
	db        *db.DB
	cache     *cache.Memory
	events    *events.Recorder
	mailer    *captureMailer
	tokens    *auth.Tokens
	inventory *InventoryService
	products  *ProductService
	sales     *SaleService
	users     *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database := dbtest.New(t)
	m, err := metrics.New(noop.NewMeterProvider().Meter("test"), "test", "sqlite3")
	require.NoError(t, err)

	env := &testEnv{
		db:     database,
		cache:  cache.NewMemory(),
		events: &events.Recorder{},
		mailer: &captureMailer{},
		tokens: auth.NewTokens("test-secret", time.Hour),
	}
	env.inventory = NewInventoryService(database, m, env.cache)
	env.products = NewProductService(database, m, env.cache, time.Minute)
	env.sales = NewSaleService(database, m, env.inventory, env.products, env.events)
	env.users = NewUserService(database, m, env.tokens, env.mailer)
	return env
}

var (
	admin = &auth.Principal{UserID: "admin-1", Name: "Root", Email: "root@example.com", IsAdmin: true}
	buyer = &auth.Principal{UserID: "buyer-1", Name: "Bea", Email: "bea@example.com"}
)

func (e *testEnv) product(t *testing.T, name, category string, price string, stock int) *models.Product {
	t.Helper()
	p, err := e.products.CreateProduct(context.Background(), models.CreateProductRequest{
		Name:         name,
		Images:       []string{"https://img.example.com/" + name + ".jpg", "https://img.example.com/" + name + "-2.jpg"},
		Brand:        "Acme",
		Category:     category,
		Description:  name + " description",
		BuyingPrice:  decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		SellingPrice: decimal.RequireFromString(price),
		Stock:        stock,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := e.inventory.GetStock(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (e *testEnv) countSales(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM sales").Scan(&n))
	return n
}

func TestPlaceholders(t *testing.T) {
	require.Equal(t, "", placeholders(0))
	require.Equal(t, "?", placeholders(1))
	require.Equal(t, "?, ?, ?", placeholders(3))
}
