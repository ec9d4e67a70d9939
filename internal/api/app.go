package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/middleware"
	"github.com/gncyclemart/shop-api/internal/services"
	"github.com/gncyclemart/shop-api/pkg/config"
)

// App holds application dependencies
type App struct {
	config    *config.Config
	db        *db.DB
	metrics   *metrics.AppMetrics
	guard     auth.Guard
	inventory *services.InventoryService
	products  *services.ProductService
	sales     *services.SaleService
	users     *services.UserService
	validate  *validator.Validate
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	guard auth.Guard,
	inv *services.InventoryService,
	ps *services.ProductService,
	ss *services.SaleService,
	us *services.UserService,
) *App {
	return &App{
		config:    cfg,
		db:        database,
		metrics:   m,
		guard:     guard,
		inventory: inv,
		products:  ps,
		sales:     ss,
		users:     us,
		validate:  newValidator(),
	}
}

func (a *App) authed(h http.HandlerFunc) http.Handler {
	return middleware.Authenticate(a.guard)(h)
}

func (a *App) adminOnly(h http.HandlerFunc) http.Handler {
	return middleware.Authenticate(a.guard)(middleware.RequireAdmin(a.guard)(h))
}

// SetupRoutes configures the HTTP routes. Fixed paths are registered before
// the {id} catch-alls they would otherwise shadow.
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.ErrorHandlerMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	api := r.PathPrefix("/api").Subrouter()

	// Products
	products := api.PathPrefix("/products").Subrouter()
	products.HandleFunc("", a.ListProductsHandler).Methods(http.MethodGet)
	products.HandleFunc("/", a.ListProductsHandler).Methods(http.MethodGet)
	products.Handle("", a.adminOnly(a.CreateProductHandler)).Methods(http.MethodPost)
	products.Handle("/", a.adminOnly(a.CreateProductHandler)).Methods(http.MethodPost)
	products.Handle("", a.adminOnly(a.UpdateProductHandler)).Methods(http.MethodPut)
	products.Handle("/", a.adminOnly(a.UpdateProductHandler)).Methods(http.MethodPut)
	products.HandleFunc("/new-products", a.NewProductsHandler).Methods(http.MethodGet)
	products.Handle("/out/{stock:[0-9]+}", a.adminOnly(a.OutOfStockHandler)).Methods(http.MethodGet)
	products.HandleFunc("/name/{name}", a.ProductsByNameHandler).Methods(http.MethodGet)
	products.HandleFunc("/brand/{brand}", a.ProductsByBrandHandler).Methods(http.MethodGet)
	products.HandleFunc("/category/{category}", a.ProductsByCategoryHandler).Methods(http.MethodGet)
	products.HandleFunc("/search/{key}", a.SearchProductsHandler).Methods(http.MethodGet)
	products.HandleFunc("/{page:[0-9]+}/{perPage:[0-9]+}", a.ListProductsHandler).Methods(http.MethodGet)
	products.HandleFunc("/{id}", a.GetProductHandler).Methods(http.MethodGet)
	products.Handle("/{id}", a.adminOnly(a.DeleteProductHandler)).Methods(http.MethodDelete)

	// Stock
	api.Handle("/stock/update/{id}", a.adminOnly(a.SetStockHandler)).Methods(http.MethodPut)
	api.Handle("/stock/{id}", a.adminOnly(a.GetStockHandler)).Methods(http.MethodGet)

	// Sales
	sales := api.PathPrefix("/sales").Subrouter()
	sales.Handle("", a.adminOnly(a.ListSalesHandler)).Methods(http.MethodGet)
	sales.Handle("/", a.adminOnly(a.ListSalesHandler)).Methods(http.MethodGet)
	sales.Handle("/confirm-sales", a.authed(a.CheckoutHandler)).Methods(http.MethodPost)
	sales.Handle("/confirm-sale/{id}", a.adminOnly(a.ConfirmSaleHandler)).Methods(http.MethodPut)
	sales.Handle("/cancel-sale/{id}", a.adminOnly(a.CancelSaleHandler)).Methods(http.MethodPut)
	sales.Handle("/{id}", a.adminOnly(a.GetSaleHandler)).Methods(http.MethodGet)
	sales.Handle("/{id}", a.adminOnly(a.DeleteSaleHandler)).Methods(http.MethodDelete)

	// Users
	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("/login", a.LoginHandler).Methods(http.MethodPost)
	users.HandleFunc("/register", a.RegisterHandler).Methods(http.MethodPost)
	users.HandleFunc("/google-login", a.GoogleLoginHandler).Methods(http.MethodPost)
	users.HandleFunc("/password-reset-request", a.PasswordResetRequestHandler).Methods(http.MethodPost)
	users.Handle("/password-reset", a.authed(a.PasswordResetHandler)).Methods(http.MethodPost)
	users.Handle("/verify-email", a.authed(a.VerifyEmailHandler)).Methods(http.MethodGet)
	users.Handle("/delete-account/{id}", a.authed(a.DeleteAccountHandler)).Methods(http.MethodDelete)
	users.Handle("", a.adminOnly(a.ListUsersHandler)).Methods(http.MethodGet)
	users.Handle("/", a.adminOnly(a.ListUsersHandler)).Methods(http.MethodGet)
	users.Handle("/{id}", a.adminOnly(a.DeleteUserHandler)).Methods(http.MethodDelete)

	// Filters, images, client config
	api.HandleFunc("/filters/categories", a.CategoriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/filters/brands", a.BrandsHandler).Methods(http.MethodGet)
	api.HandleFunc("/filters/names", a.NamesHandler).Methods(http.MethodGet)
	api.HandleFunc("/images", a.ImagesHandler).Methods(http.MethodGet)
	api.HandleFunc("/images/", a.ImagesHandler).Methods(http.MethodGet)
	api.Handle("/images", a.adminOnly(a.AddImageHandler)).Methods(http.MethodPost)
	api.HandleFunc("/config/web-google", a.GoogleClientIDHandler).Methods(http.MethodGet)

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)

	// preflight requests match no method above; CORSMiddleware answers them
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

// Router returns a router with every route registered.
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	a.SetupRoutes(r)
	return r
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GoogleClientIDHandler returns the Google web client id as plain text
func (a *App) GoogleClientIDHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(a.config.GoogleWebClientID))
}
