package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/cache"
	"github.com/gncyclemart/shop-api/internal/db/dbtest"
	"github.com/gncyclemart/shop-api/internal/events"
	"github.com/gncyclemart/shop-api/internal/mail"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
	"github.com/gncyclemart/shop-api/internal/services"
	"github.com/gncyclemart/shop-api/pkg/config"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	users  *services.UserService
	events *events.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database := dbtest.New(t)
	m, err := metrics.New(noop.NewMeterProvider().Meter("test"), "test", "sqlite3")
	require.NoError(t, err)

	c := cache.NewMemory()
	recorder := &events.Recorder{}
	tokens := auth.NewTokens("test-secret", time.Hour)

	inv := services.NewInventoryService(database, m, c)
	ps := services.NewProductService(database, m, c, time.Minute)
	ss := services.NewSaleService(database, m, inv, ps, recorder)
	us := services.NewUserService(database, m, tokens, mail.Noop{AppURL: "http://shop.test"})

	cfg := &config.Config{GoogleWebClientID: "web-client-id"}
	app := NewApp(cfg, database, m, auth.NewGuard(tokens, us), inv, ps, ss, us)
	return &testServer{t: t, router: app.Router(), users: us, events: recorder}
}

// do sends body as JSON and decodes the response into out when it is non-nil.
func (s *testServer) do(method, path, token string, body, out interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

// register signs up an account and returns its token.
func (s *testServer) register(name, email string, admin bool) string {
	s.t.Helper()

	var resp models.AuthResponse
	rec := s.do(http.MethodPost, "/api/users/register", "", models.RegisterRequest{
		Name: name, Email: email, Password: "secret123",
	}, &resp)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotEmpty(s.t, resp.Token)

	if admin {
		require.NoError(s.t, s.users.SetAdmin(context.Background(), email, true))
	}
	return resp.Token
}

// createProduct adds a product through the admin endpoint and returns its id.
func (s *testServer) createProduct(token, name string, price, stock int) string {
	s.t.Helper()

	var products []map[string]interface{}
	rec := s.do(http.MethodPost, "/api/products", token, map[string]interface{}{
		"name":         name,
		"images":       []string{"https://img.example.com/" + name + ".jpg"},
		"brand":        "Acme",
		"category":     "parts",
		"description":  name + " description",
		"buyingPrice":  price / 2,
		"sellingPrice": price,
		"stock":        stock,
	}, &products)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, p := range products {
		if p["name"] == name {
			return p["_id"].(string)
		}
	}
	s.t.Fatalf("product %s missing from catalog", name)
	return ""
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	rec := s.do(http.MethodGet, "/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodOptions, "/api/sales/confirm-sales", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestGoogleClientID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/config/web-google", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web-client-id", rec.Body.String())
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.register("Root", "root@example.com", true)
	buyerToken := s.register("Bea", "bea@example.com", false)
	saddle := s.createProduct(adminToken, "saddle", 10, 3)

	var created models.CheckoutResponse
	rec := s.do(http.MethodPost, "/api/sales/confirm-sales", buyerToken, map[string]interface{}{
		"salesItems": []map[string]interface{}{{"id": saddle, "qty": 2, "price": 0.01}},
	}, &created)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, created.SaleID)

	var stock map[string]interface{}
	rec = s.do(http.MethodGet, "/api/stock/"+saddle, adminToken, nil, &stock)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saddle, stock["_id"])
	assert.EqualValues(t, 1, stock["stock"])

	// the client-sent price is ignored
	var sale models.Sale
	rec = s.do(http.MethodGet, "/api/sales/"+created.SaleID, adminToken, nil, &sale)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sale.TotalPrice.Equal(decimal.NewFromInt(20)), sale.TotalPrice.String())
	assert.Equal(t, models.SaleStatusPending, sale.Status)

	sale = models.Sale{}
	rec = s.do(http.MethodPut, "/api/sales/confirm-sale/"+created.SaleID, adminToken, nil, &sale)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.SaleStatusConfirmed, sale.Status)
	assert.True(t, sale.IsConfirmed)

	var errBody map[string]string
	rec = s.do(http.MethodPut, "/api/sales/confirm-sale/"+created.SaleID, adminToken, nil, &errBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, errBody["message"])

	var sales []models.Sale
	rec = s.do(http.MethodGet, "/api/sales", adminToken, nil, &sales)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sales, 1)
	assert.Equal(t, "Bea", sales[0].Username)

	assert.Equal(t, []string{events.SaleCreated, events.SaleConfirmed}, s.events.Types())
}

func TestCheckoutRejectsLine(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.register("Root", "root@example.com", true)
	buyerToken := s.register("Bea", "bea@example.com", false)
	saddle := s.createProduct(adminToken, "saddle", 10, 5)
	light := s.createProduct(adminToken, "light", 5, 1)

	var errBody map[string]string
	rec := s.do(http.MethodPost, "/api/sales/confirm-sales", buyerToken, map[string]interface{}{
		"salesItems": []map[string]interface{}{{"id": saddle, "qty": 1}, {"id": light, "qty": 2}},
	}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, light, errBody["productId"])
	assert.NotEmpty(t, errBody["message"])

	// nothing was taken from the first line
	var stock map[string]interface{}
	s.do(http.MethodGet, "/api/stock/"+saddle, adminToken, nil, &stock)
	assert.EqualValues(t, 5, stock["stock"])

	errBody = nil
	rec = s.do(http.MethodPost, "/api/sales/confirm-sales", buyerToken, map[string]interface{}{
		"salesItems": []map[string]interface{}{{"id": "no-such-product", "qty": 1}},
	}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no-such-product", errBody["productId"])

	assert.Empty(t, s.events.Types())
}

func TestCheckoutValidation(t *testing.T) {
	s := newTestServer(t)
	buyerToken := s.register("Bea", "bea@example.com", false)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty cart", map[string]interface{}{"salesItems": []interface{}{}}},
		{"missing cart", map[string]interface{}{}},
		{"zero quantity", map[string]interface{}{"salesItems": []map[string]interface{}{{"id": "p1", "qty": 0}}}},
		{"malformed json", `{"salesItems": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/sales/confirm-sales", buyerToken, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	buyerToken := s.register("Bea", "bea@example.com", false)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"checkout without token", http.MethodPost, "/api/sales/confirm-sales", "", http.StatusUnauthorized},
		{"checkout with garbage token", http.MethodPost, "/api/sales/confirm-sales", "nope", http.StatusUnauthorized},
		{"list sales as buyer", http.MethodGet, "/api/sales", buyerToken, http.StatusForbidden},
		{"list users as buyer", http.MethodGet, "/api/users", buyerToken, http.StatusForbidden},
		{"create product anonymously", http.MethodPost, "/api/products", "", http.StatusUnauthorized},
		{"set stock as buyer", http.MethodPut, "/api/stock/update/p1", buyerToken, http.StatusForbidden},
		{"public catalog", http.MethodGet, "/api/products", "", http.StatusOK},
		{"public filters", http.MethodGet, "/api/filters/categories", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.token, `{}`, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.register("Root", "root@example.com", true)
	saddle := s.createProduct(adminToken, "saddle", 10, 0)
	s.createProduct(adminToken, "light", 5, 4)

	var page models.ProductPage
	rec := s.do(http.MethodGet, "/api/products/1/1", "", nil, &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, page.Products, 1)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	var product map[string]interface{}
	rec = s.do(http.MethodGet, "/api/products/"+saddle, "", nil, &product)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "saddle", product["name"])

	rec = s.do(http.MethodGet, "/api/products/missing", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var out []models.Product
	rec = s.do(http.MethodGet, "/api/products/out/0", adminToken, nil, &out)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 1)
	assert.Equal(t, saddle, out[0].ID)

	rec = s.do(http.MethodPut, "/api/stock/update/"+saddle, adminToken, map[string]int{"stock": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/stock/update/"+saddle, adminToken, map[string]int{"stock": 7}, &product)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 7, product["stock"])

	rec = s.do(http.MethodPut, "/api/stock/update/missing", adminToken, map[string]int{"stock": 1}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var found []models.Product
	rec = s.do(http.MethodGet, "/api/products/search/SAD", "", nil, &found)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, found, 1)

	var brands []string
	s.do(http.MethodGet, "/api/filters/brands", "", nil, &brands)
	assert.Equal(t, []string{"Acme"}, brands)

	rec = s.do(http.MethodDelete, "/api/products/"+saddle, adminToken, nil, &product)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saddle, product["_id"])

	rec = s.do(http.MethodGet, "/api/products/"+saddle, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCarouselImages(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.register("Root", "root@example.com", true)

	rec := s.do(http.MethodPost, "/api/images", adminToken, map[string]string{"imageUrl": "not a url"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var img models.Image
	rec = s.do(http.MethodPost, "/api/images", adminToken, map[string]string{"imageUrl": "https://img.example.com/banner.jpg"}, &img)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, img.ID)

	var images []string
	rec = s.do(http.MethodGet, "/api/images", "", nil, &images)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://img.example.com/banner.jpg"}, images)
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.register("Root", "root@example.com", true)
	buyerToken := s.register("Bea", "bea@example.com", false)

	rec := s.do(http.MethodPost, "/api/users/register", "", models.RegisterRequest{
		Name: "Bea again", Email: "BEA@example.com", Password: "secret123",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errBody map[string]string
	rec = s.do(http.MethodPost, "/api/users/login", "", models.LoginRequest{Email: "bea@example.com", Password: "wrong"}, &errBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, errBody["message"])

	var login models.AuthResponse
	rec = s.do(http.MethodPost, "/api/users/login", "", models.LoginRequest{Email: "bea@example.com", Password: "secret123"}, &login)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "Bea", login.Name)

	var msg map[string]string
	rec = s.do(http.MethodPost, "/api/users/password-reset", buyerToken, models.PasswordResetBody{Password: "another1"}, &msg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Your password has been updated successfully.", msg["message"])

	rec = s.do(http.MethodPost, "/api/users/password-reset-request", "", models.PasswordResetRequest{Email: "ghost@example.com"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var users []models.User
	rec = s.do(http.MethodGet, "/api/users", adminToken, nil, &users)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, users, 2)

	rec = s.do(http.MethodDelete, "/api/users/delete-account/"+login.ID, buyerToken, nil, &msg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Account deleted successfully", msg["message"])

	// the token outlives the account but no longer authenticates
	rec = s.do(http.MethodGet, "/api/users/verify-email", buyerToken, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.LineItemError{ProductID: "p1", Err: models.ErrInsufficientStock}, http.StatusUnprocessableEntity},
		{models.ErrNotFound, http.StatusNotFound},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{models.ErrValidation, http.StatusBadRequest},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrAlreadyConfirmed, http.StatusConflict},
		{models.ErrSaleCancelled, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
