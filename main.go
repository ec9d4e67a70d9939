package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/api"
	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/cache"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/events"
	"github.com/gncyclemart/shop-api/internal/logging"
	"github.com/gncyclemart/shop-api/internal/mail"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/services"
	"github.com/gncyclemart/shop-api/pkg/config"
)

func main() {
	// prices are sent to clients as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "shop-api",
	Short:         "Store admin and checkout API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(grantAdminCmd)
	rootCmd.AddCommand(routeListCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// runtime is everything a command needs once config is loaded.
type runtime struct {
	cfg       *config.Config
	metrics   *metrics.AppMetrics
	db        *db.DB
	cache     cache.Cache
	events    events.Publisher
	tokens    *auth.Tokens
	inventory *services.InventoryService
	products  *services.ProductService
	sales     *services.SaleService
	users     *services.UserService

	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// bootstrap loads config and opens every backing service. The caller must
// Close the result.
func bootstrap(ctx context.Context) (*runtime, error) {
	cfg := config.LoadConfig()

	flush, err := logging.Install(cfg.LogMode, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	rt := &runtime{cfg: cfg, closers: []func(){flush}}

	if err := cfg.Validate(); err != nil {
		rt.Close()
		return nil, err
	}

	appMetrics, meter, shutdownMetrics, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	rt.metrics = appMetrics
	rt.closers = append(rt.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			zap.S().Warnw("error shutting down meter provider", "error", err)
		}
	})

	database, err := db.NewDB(cfg.DBDriver, cfg.GetDSN(), meter, cfg.OTELServiceName)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt.db = database
	rt.closers = append(rt.closers, func() { database.Close() })

	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.OTELServiceName+":")
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.cache = rdb
		rt.closers = append(rt.closers, func() { rdb.Close() })
	} else {
		rt.cache = cache.NewMemory()
	}

	rt.events = events.New(cfg.KafkaBrokers, cfg.KafkaSalesTopic)
	rt.closers = append(rt.closers, func() {
		if err := rt.events.Close(); err != nil {
			zap.S().Warnw("error closing event publisher", "error", err)
		}
	})

	mailer := mail.New(mail.Config{
		Host:     cfg.MailHost,
		Port:     cfg.MailPort,
		Username: cfg.MailUsername,
		Password: cfg.MailPassword,
		From:     cfg.MailFrom,
		AppURL:   cfg.AppURL,
	})

	rt.tokens = auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL)
	rt.inventory = services.NewInventoryService(database, appMetrics, rt.cache)
	rt.products = services.NewProductService(database, appMetrics, rt.cache, cfg.CacheTTL)
	rt.sales = services.NewSaleService(database, appMetrics, rt.inventory, rt.products, rt.events)
	rt.users = services.NewUserService(database, appMetrics, rt.tokens, mailer)
	return rt, nil
}

func (rt *runtime) app() *api.App {
	guard := auth.NewGuard(rt.tokens, rt.users)
	return api.NewApp(rt.cfg, rt.db, rt.metrics, guard, rt.inventory, rt.products, rt.sales, rt.users)
}

func serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	go rt.inventory.MonitorOutOfStock(ctx, 30*time.Second)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", rt.cfg.AppPort),
		Handler:      rt.app().Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.S().Infow("server starting",
			"port", rt.cfg.AppPort,
			"db_driver", rt.cfg.DBDriver,
			"metrics_enabled", rt.cfg.OTELMetricsEnabled,
			"otlp_endpoint", rt.cfg.OTELExporterOTLPEndpoint,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	}

	zap.S().Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zap.S().Info("server exited")
	return nil
}
