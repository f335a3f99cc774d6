package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mediguide/concierge/backend/internal/config"
	"github.com/mediguide/concierge/backend/internal/handler"
	"github.com/mediguide/concierge/backend/internal/model/prompt"
	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/remote"
	"github.com/mediguide/concierge/backend/internal/service/turn"
	"github.com/mediguide/concierge/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.Warnf("failed to load .env file: %v, continuing with system environment", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	chatSvc := chatservice.NewService()

	var (
		client    remote.Client
		suggester handler.Suggester
	)
	switch cfg.Backend.Mode {
	case config.ModeSDK:
		if !cfg.AI.Enabled() {
			logger.Fatalf("backend mode is sdk but no model credentials are configured, set ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
		}
		sdkClient, err := remote.NewSDKClient(ctx, cfg.AI)
		if err != nil {
			logger.Fatalf("failed to initialize sdk backend: %v", err)
		}
		client = sdkClient
		logger.Infof("sdk backend initialized, model=%s", cfg.AI.Model)
	default:
		httpClient := remote.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
		client = httpClient
		suggester = httpClient
		logger.Infof("http backend initialized, base=%s", cfg.Backend.BaseURL)
	}

	orch := turn.NewOrchestrator(chatSvc, client, cfg.Backend)
	orch.BindFreshContext(ctx, chatservice.DefaultSessionID)

	prompts := prompt.NewMemoryStore(prompt.Seed())
	router := handler.NewRouter(chatSvc, orch, suggester, prompts, cfg.CORS.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof("mediguide concierge backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
