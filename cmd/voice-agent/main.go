package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/counselhub/voice-agent/pkg/gateway/config"
	"github.com/counselhub/voice-agent/pkg/gateway/live"
	gatewayserver "github.com/counselhub/voice-agent/pkg/gateway/server"
	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

type agentDeps struct {
	loadConfig   func() (config.Config, error)
	newClient    func(ctx context.Context, apiKey string) (live.ModelClient, error)
	newGateway   func(config.Config, live.ModelClient, *tools.Registry, *slog.Logger) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAgentDeps() agentDeps {
	return agentDeps{
		loadConfig: config.LoadFromEnv,
		newClient: func(ctx context.Context, apiKey string) (live.ModelClient, error) {
			return live.NewGeminiClient(ctx, apiKey)
		},
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildRegistry(cfg config.Config) *tools.Registry {
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg)
	_ = reg.Register(tools.NewCohortChatTool(tools.CohortChatConfig{
		HTTPClient:    &http.Client{Timeout: cfg.ToolRequestTimeout},
		APIKey:        cfg.RagAPIKey,
		RetryAttempts: cfg.ToolRetryAttempts,
	}))
	return reg
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runAgent(ctx context.Context, logger *slog.Logger, deps agentDeps) error {
	if deps.loadConfig == nil || deps.newClient == nil || deps.newGateway == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := deps.newClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("create model client: %w", err)
	}

	gw := deps.newGateway(cfg, client, buildRegistry(cfg), logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go gw.Store().Run(sweepCtx)

	logger.Info("starting voice agent", "addr", cfg.Addr, "model", cfg.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.WarnRealtimeSessions("draining", "server is shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitRealtimeSessions(waitCtx) {
		gw.CancelRealtimeSessions()
		// Give force-closed handlers a moment to unregister.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		gw.WaitRealtimeSessions(drainCtx)
		drainCancel()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice agent stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps agentDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "voice-agent: load .env: %v\n", err)
		return 1
	}

	if err := runAgent(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voice-agent: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAgentDeps()))
}
