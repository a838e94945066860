// Package main is the entry point for the local API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/internal/blob"
	"github.com/arbor-ai/arbor/internal/config"
	"github.com/arbor-ai/arbor/internal/credential"
	"github.com/arbor-ai/arbor/internal/handler"
	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/middleware"
	"github.com/arbor-ai/arbor/internal/persist"
	"github.com/arbor-ai/arbor/internal/service"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/internal/stream"
	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting local chat server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "arbor", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("failed to create data directory", zap.Error(err))
		os.Exit(1)
	}

	// Snapshot storage
	storage, err := persist.NewSQLiteStore(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		log.Error("failed to open snapshot store", zap.Error(err))
		os.Exit(1)
	}
	defer storage.Close()
	if err := storage.Initialize(ctx); err != nil {
		log.Error("failed to initialize snapshot store", zap.Error(err))
		os.Exit(1)
	}

	// Attachment blobs
	blobs, err := blob.NewFSStore(filepath.Join(cfg.DataDir, "blobs"), log.Named("blob"))
	if err != nil {
		log.Error("failed to open blob store", zap.Error(err))
		os.Exit(1)
	}

	// Credentials and provider registry
	creds := credential.NewStaticStore(map[string]string{
		string(llm.ProviderAnthropic): cfg.AnthropicAPIKey,
		string(llm.ProviderOpenAI):    cfg.OpenAIAPIKey,
		string(llm.ProviderGemini):    cfg.GeminiAPIKey,
	})
	registry := llm.NewRegistry(creds, log.Named("llm"))

	// Conversation store
	st := store.New(storage, blobs, cfg.DefaultModel, cfg.DebounceInterval, log.Named("store"),
		store.WithModelCatalog(llm.Catalog()),
	)
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		log.Error("failed to load conversations", zap.Error(err))
		os.Exit(1)
	}

	// Streaming
	orchestrator := stream.NewOrchestrator(registry, blobs, cfg.StreamTimeout, log.Named("stream"))
	chat := service.NewChatService(st, orchestrator, cfg.ThrottleInterval, log.Named("chat"))

	// Handlers
	healthHandler := handler.NewHealthHandler(storage)
	conversationHandler := handler.NewConversationHandler(st, log)
	messageHandler := handler.NewMessageHandler(st, log)
	branchHandler := handler.NewBranchHandler(st, log)
	streamHandler := handler.NewStreamHandler(chat, log)

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Delete("/", conversationHandler.Clear)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Put("/title", conversationHandler.UpdateTitle)
				r.Post("/star", conversationHandler.ToggleStar)
				r.Post("/activate", conversationHandler.Activate)

				// Messages
				r.Post("/messages", messageHandler.Add)
				r.Put("/messages/{messageID}", messageHandler.Edit)

				// Branches
				r.Post("/branches", branchHandler.Create)
				r.Route("/branches/{branchID}", func(r chi.Router) {
					r.Delete("/", branchHandler.Delete)
					r.Post("/collapse", branchHandler.ToggleCollapse)
					r.Post("/open", branchHandler.Open)
					r.Post("/close", branchHandler.Close)
				})

				// Streaming
				r.Post("/stream", streamHandler.Send)
				r.Delete("/stream", streamHandler.Cancel)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// st.Close (deferred) forces a final persistence flush.
	log.Info("server stopped")
}
