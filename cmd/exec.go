package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-checkout/config"
	"ticket-checkout/handlers"
	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/notify"
	"ticket-checkout/internal/payment"
	"ticket-checkout/internal/reservation"
	"ticket-checkout/internal/saga"
	"ticket-checkout/internal/sweeper"
	"ticket-checkout/monitoring"
	"ticket-checkout/security"
	"ticket-checkout/utils"
)

func Start() error {
	cfg := config.LoadConfig()

	var redisClient *redis.Client
	if cfg.StoreBackend == "redis" {
		redisClient = utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
	}

	// PubNub is optional; without keys the notifier degrades to a no-op
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}
	notifier := notify.New(pn)

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(redisClient)
	}

	// Storage wiring per backend
	var (
		ldg   ledger.Ledger
		store reservation.Store
		repo  saga.Repo
	)
	if cfg.StoreBackend == "redis" {
		ldg = ledger.NewRedisLedger(redisClient)
		store = reservation.NewRedisStore(redisClient, ldg)
		repo = saga.NewRedisRepo(redisClient, cfg.SagaRetention)
	} else {
		memLedger := ledger.NewMemoryLedger()
		ldg = memLedger
		store = reservation.NewMemoryStore(memLedger)
		repo = saga.NewMemoryRepo()
	}

	chargeLimit, err := decimal.NewFromString(cfg.ChargeLimit)
	if err != nil {
		chargeLimit = decimal.NewFromInt(1000)
	}
	gateway := payment.NewSimulatedGateway(chargeLimit, 50*time.Millisecond)

	orchestrator := saga.NewOrchestrator(
		ldg, store, repo, gateway, notifier, monitor,
		cfg.ReservationTTL, cfg.PaymentTimeout,
	)

	// Background workers
	sweep := sweeper.New(store, notifier, monitor, cfg.SweepInterval, cfg.SweepBatchSize)
	sweep.Start()
	defer sweep.Shutdown()

	reconciler := saga.NewReconciler(orchestrator, cfg.ReconcileInterval)
	reconciler.Start()
	defer reconciler.Shutdown()

	// Handlers
	reservationHandler := handlers.NewReservationHandler(store, monitor, cfg.ReservationTTL)
	purchaseHandler := handlers.NewPurchaseHandler(orchestrator)
	ticketHandler := handlers.NewTicketHandler(store, ldg)
	adminHandler := handlers.NewAdminHandler(ldg, orchestrator)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.PurchaseRateLimit, cfg.PurchaseRateWindow)

	e := echo.New()
	e.Use(rateLimiter.AntiBotMiddleware())

	// Reservation endpoints
	e.POST("/api/v1/reservations", reservationHandler.CreateReservation, rateLimiter.PurchaseRateLimit())
	e.GET("/api/v1/reservations/:id", reservationHandler.GetReservation)
	e.POST("/api/v1/reservations/:id/release", reservationHandler.ReleaseReservation)

	// Purchase endpoints
	e.POST("/api/v1/purchase", purchaseHandler.Purchase, rateLimiter.PurchaseRateLimit())
	e.GET("/api/v1/purchase/:id", purchaseHandler.GetPurchase)

	// Ticket endpoints
	e.GET("/api/v1/tickets", ticketHandler.ListTickets)

	// Admin endpoints
	e.PUT("/api/v1/admin/ticket-types", adminHandler.UpsertTicketType)
	e.GET("/api/v1/admin/ticket-types/:id", adminHandler.GetTicketType)
	e.GET("/api/v1/admin/orphans", adminHandler.ListOrphans)
	e.POST("/api/v1/admin/reconcile", adminHandler.Reconcile)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if redisClient != nil {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return c.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	if cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	go func() {
		log.Printf("Server starting on port %s (backend: %s)", cfg.Port, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
