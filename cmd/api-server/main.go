package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"scanhub/internal/auth"
	"scanhub/internal/catalog"
	"scanhub/internal/dupcheck"
	"scanhub/internal/modhub"
	"scanhub/internal/ratelimit"
	"scanhub/internal/review"
	"scanhub/internal/staging"
	"scanhub/internal/storage"
	"scanhub/internal/submission"
	"scanhub/pkg/database"
	"scanhub/pkg/logging"
	"scanhub/pkg/utils"
)

func main() {
	_ = godotenv.Load()
	logging.InitLogger()

	cfg := database.DefaultConfig()
	db := database.MustOpen(cfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		slog.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	store, err := buildStore()
	if err != nil {
		slog.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	counters, err := buildCounters()
	if err != nil {
		slog.Error("rate limit store init failed", "err", err)
		os.Exit(1)
	}

	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	hub := modhub.NewHub()
	router.GET("/ws", modhub.WSHandler(hub))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": cfg.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not_ready",
				"db_error":   err.Error(),
				"ws_clients": stats.Clients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "ready",
			"db":         "ok",
			"ws_clients": stats.Clients,
		})
	})

	// Catalog (public)
	catalogRepo := catalog.NewRepo(db)
	catalogHandler := catalog.NewHandler(catalogRepo)
	catalogHandler.RegisterRoutes(router.Group("/series"))

	// Auth
	authCfg := utils.LoadAuthConfig()
	tokenSvc := auth.TokenService{
		Secret:   []byte(authCfg.JWTSecret),
		Issuer:   authCfg.JWTIssuer,
		Duration: authCfg.JWTDuration,
	}
	authRepo := auth.NewRepo(db)
	authHandler := auth.NewHandler(authRepo, tokenSvc)
	authHandler.RegisterRoutes(router.Group("/auth"))

	protected := router.Group("")
	protected.Use(auth.AuthMiddleware(tokenSvc, authRepo))

	protected.GET("/users/me", func(c *gin.Context) {
		claims := auth.MustGetClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"id":        claims.UserID,
			"username":  claims.Username,
			"moderator": claims.Moderator,
		})
	})

	// Groups (protected)
	authHandler.RegisterGroupRoutes(protected)

	// Submission intake (protected)
	subRepo := submission.NewRepo(db)
	limiter := ratelimit.NewLimiter(counters, utils.LoadLimitConfig())
	detector := dupcheck.NewDetector(db)
	uploader := staging.NewUploader(store)
	subHandler := submission.NewHandler(subRepo, authRepo, catalogRepo, limiter, detector, uploader, hub)
	subHandler.RegisterRoutes(protected.Group("/submissions"))

	// Moderation queue (moderators only)
	promoter := review.NewPromoter(store, subRepo)
	cleaner := review.NewCleaner(store)
	reviewHandler := review.NewHandler(subRepo, promoter, cleaner, hub)
	mod := protected.Group("/mod")
	mod.Use(auth.RequireModerator())
	reviewHandler.RegisterRoutes(mod)

	// Serve local objects directly in dev; behind S3 the public URL points
	// elsewhere and this route just never gets hit.
	if local, ok := store.(*storage.LocalStore); ok {
		router.Static("/objects", local.Root)
	}

	httpSrv := &http.Server{
		Addr:    listenAddr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
	}
	slog.Info("server stopped")
}

func buildStore() (storage.Store, error) {
	cfg := utils.LoadStorageConfig()
	switch cfg.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3Store(ctx, cfg)
	default:
		return storage.NewLocalStore(cfg.LocalDir, cfg.BaseURL)
	}
}

func buildCounters() (ratelimit.CounterStore, error) {
	cfg := utils.LoadValkeyConfig()
	if cfg.Addr == "" {
		return ratelimit.NewMemoryStore(), nil
	}
	return ratelimit.NewValkeyStore(cfg)
}

func listenAddr() string {
	if addr := os.Getenv("SCANHUB_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
