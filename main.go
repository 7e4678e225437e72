package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"n3master/auth"
	"n3master/config"
	"n3master/crypto"
	"n3master/handlers"
	"n3master/i18n"
	"n3master/logging"
	"n3master/service"
	"n3master/store"
)

func main() {
	if err := config.LoadConfig("config.json"); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	cfg := config.AppConfig

	logger := logging.New(os.Stdout, cfg.Production)

	if err := i18n.LoadTranslations(); err != nil {
		log.Fatalf("Error loading translations: %v", err)
	}
	i18n.DefaultLang = cfg.DefaultLanguage

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Error opening %s store: %v", cfg.StoreDriver, err)
	}
	defer st.Close()

	hasher, err := crypto.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("Error configuring password hashing: %v", err)
	}
	codec, err := auth.NewCodec(cfg.SessionSecret, cfg.SessionLifetime.Duration)
	if err != nil {
		log.Fatalf("Error configuring sessions: %v", err)
	}

	authSvc := service.NewAuthService(st, hasher, codec, logger)
	srv := handlers.NewServer(
		authSvc,
		service.NewProgressService(st, logger),
		service.NewMigrationService(st, hasher, authSvc, logger),
		st,
		auth.NewSessionCookie(cfg.CookieName, cfg.Production, codec.Lifetime()),
		logger,
	)

	mux := http.NewServeMux()
	srv.RegisterHandlers(mux)

	var handler http.Handler = mux
	if cfg.CSRFEnabled {
		handler = handlers.CSRFMiddleware(cfg.SessionSecret, cfg.Production, cfg.TrustedOrigins)(handler)
	}
	handler = handlers.CORSMiddleware(cfg.TrustedOrigins)(handler)
	handler = handlers.SecurityHeadersMiddleware(handler)
	handler = handlers.RequestLogger(logger)(handler)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "shutdown failed", "err", err)
		}
	}()

	logger.Info(ctx, "server starting", "addr", httpServer.Addr, "app", cfg.AppName, "store", cfg.StoreDriver)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info(context.Background(), "server stopped")
}
