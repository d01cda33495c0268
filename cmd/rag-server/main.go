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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/counselhub/voice-agent/pkg/rag/cache"
	"github.com/counselhub/voice-agent/pkg/rag/chat"
	"github.com/counselhub/voice-agent/pkg/rag/config"
	"github.com/counselhub/voice-agent/pkg/rag/embed"
	ragserver "github.com/counselhub/voice-agent/pkg/rag/server"
	"github.com/counselhub/voice-agent/pkg/rag/store"
	"github.com/counselhub/voice-agent/pkg/rag/vectorstore"
)

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ca := cache.New(redisClient, cfg.CacheTTL)
	defer ca.Close()

	vs, err := vectorstore.New(vectorstore.Config{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey})
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	defer vs.Close()

	embedder, err := embed.New(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	llm, err := chat.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return fmt.Errorf("create llm: %w", err)
	}

	svc := chat.NewService(chat.ServiceConfig{
		Store:    st,
		Cache:    ca,
		Searcher: vs,
		Embedder: embedder,
		LLM:      llm,
		TopK:     cfg.TopK,
		Logger:   logger,
	})

	srv := ragserver.New(cfg, svc, st, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting rag server", "addr", cfg.Addr, "chat_model", cfg.ChatModel)

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
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("rag server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "rag-server: load .env: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "rag-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
