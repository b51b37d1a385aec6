package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/kamipay/relay/internal/config"
	"github.com/kamipay/relay/internal/handler"
	appMiddleware "github.com/kamipay/relay/internal/middleware"
	"github.com/kamipay/relay/internal/service"
	"github.com/kamipay/relay/internal/ws"
	"github.com/kamipay/relay/pkg/payment"
)

func main() {
	// Load .env file if present (for local development)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("⚠️  Could not read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger := log.Default()

	// Upstream shop (Odoo JSON routes)
	kamipay := payment.NewKamiPay(payment.NewRPCClient(cfg.UpstreamURL))
	log.Printf("✅ Upstream shop at %s", cfg.UpstreamURL)

	tokens := service.NewMountTokens(cfg.MountSecret, cfg.MountTokenTTL, nil)

	// Initialize handlers
	qrHandler := ws.NewQRHandler(kamipay, service.WatcherOptions{
		PollInterval: cfg.PollInterval,
		Expiry:       cfg.QRExpiry,
		Logger:       logger,
	})
	kamipayHandler := handler.NewKamiPayHandler(kamipay, tokens, logger)
	healthHandler := handler.NewHealthHandler(cfg.UpstreamURL, qrHandler)

	r := newRouter(cfg, tokens, qrHandler, kamipayHandler, healthHandler)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		qrHandler.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 KamiPay relay listening at http://%s (poll %s, expiry %s)", addr, cfg.PollInterval, cfg.QRExpiry)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}

func newRouter(
	cfg *config.Config,
	tokens *service.MountTokens,
	qrHandler *ws.QRHandler,
	kamipayHandler *handler.KamiPayHandler,
	healthHandler *handler.HealthHandler,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.RequestIDHeader},
		ExposedHeaders:   []string{appMiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	r.Get("/health", healthHandler.Check)

	// Test console: one simulation per click, limited per IP
	simulateRL := appMiddleware.NewRateLimiter(cfg.SimulateRPS, cfg.SimulateBurst)
	r.With(simulateRL.Middleware()).Post("/api/kamipay/simulate", kamipayHandler.Simulate)

	if cfg.DevMount {
		log.Println("⚠️  Dev mount endpoint enabled")
		r.Post("/api/kamipay/mount", kamipayHandler.Mount)
	}

	// QR container socket (auth via mount token)
	r.With(appMiddleware.MountToken(tokens)).Get("/ws/kamipay/qr", qrHandler.Handle)

	return r
}
