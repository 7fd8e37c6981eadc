package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/database"
	"github.com/campusmart/backend/internal/handlers"
	"github.com/campusmart/backend/internal/jobs"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	mW "github.com/campusmart/backend/internal/middleware"
	"github.com/campusmart/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

func main() {
	envFile := flag.String("env", ".env", "path to the .env file")
	memory := flag.Bool("memory", false, "keep the ledger in memory instead of Postgres")
	flag.Parse()

	// Initialize config
	if err := config.Init(*envFile); err != nil {
		logger.Warnf("Config file not loaded, using environment and defaults: %v", err)
	}
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("worker.concurrency", 5)
	viper.SetDefault("bank.source_name", "CampusMart Wallet")
	logger.Configure(viper.GetString("log.level"), viper.GetString("log.format"))

	walletCfg := config.LoadWalletConfig()
	gatewayCfg := config.LoadGatewayConfig()
	bankCfg := config.LoadBankConfig()

	// Ledger store
	var store ledger.Store
	var db *sql.DB
	if *memory {
		logger.Warn("Running with the in-memory ledger, balances are lost on restart")
		store = ledger.NewMemoryStore(ledger.RealClock{})
	} else {
		db = database.InitDatabase()
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := database.EnsureSchema(ctx, db); err != nil {
			cancel()
			logger.Fatalf("Failed to prepare wallet schema: %v", err)
		}
		cancel()
		store = database.NewPostgresLedgerStore(db)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)
	audit := services.NewAuditLogger(logger.Logger())

	walletLedger := ledger.New(store, ledger.RealClock{})
	walletLedger.Observe(audit.LogCommit)
	walletLedger.Observe(metrics.ObserveCommit)

	// Initialize services
	guard := services.NewIdempotencyGuard(redisClient, walletCfg.LockTTL, metrics)
	gateway := services.NewHTTPGateway(gatewayCfg, nil)
	partner := services.NewHTTPBankingPartner(bankCfg, nil)
	iso20022Service := services.NewISO20022Service(bankCfg.SourceBIC, viper.GetString("bank.source_name"))

	accountService := services.NewAccountService(walletLedger, metrics)
	depositService := services.NewDepositService(walletLedger, accountService, gateway, guard, metrics, walletCfg, gatewayCfg)
	withdrawalService := services.NewWithdrawalService(walletLedger, accountService, partner, iso20022Service, guard, metrics, walletCfg, bankCfg)
	escrowService := services.NewEscrowService(walletLedger, accountService, walletCfg)
	bankService := services.NewBankService(partner, redisClient, bankCfg.BankListTTL)
	reconciliationService := services.NewReconciliationService(walletLedger, depositService, withdrawalService, guard, metrics, walletCfg)

	// Background work: asynq when Redis is up, an in-process ticker otherwise
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var worker *jobs.Worker
	if redisClient != nil {
		opts := database.RedisOptions()
		redisOpt := asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}

		queue := jobs.NewQueue(redisOpt)
		defer queue.Close()
		withdrawalService.SetQueue(queue)

		worker = jobs.NewWorker(redisOpt, jobs.NewProcessor(withdrawalService, reconciliationService),
			viper.GetInt("worker.concurrency"), walletCfg.ReconcileInterval)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start job worker: %v", err)
		}
	} else {
		if walletCfg.PayoutMode == config.PayoutAsync {
			logger.Warn("Async payouts need Redis, sending payouts inline")
		}
		go reconciliationService.Run(bgCtx, walletCfg.ReconcileInterval)
	}

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	walletHandler := handlers.NewWalletHandler(accountService, depositService, withdrawalService, bankService)
	escrowHandler := handlers.NewEscrowHandler(escrowService)
	webhookHandler := handlers.NewWebhookHandler(depositService, withdrawalService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy"}
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	// Serve OpenAPI spec
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Signed partner callbacks, no user token
	webhookHandler.Routes(r)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/banks", walletHandler.ListBanks)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			walletHandler.Routes(r)
			escrowHandler.Routes(r)
		})
	})

	port := viper.GetString("server.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	stopBackground()
	if worker != nil {
		worker.Shutdown()
	}

	logger.Info("Server stopped")
}
