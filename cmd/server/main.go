// JobMato Assistant - realtime career assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/api"
	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/classifier"
	"github.com/ashureev/jobmato-assistant/internal/config"
	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/gateway"
	"github.com/ashureev/jobmato-assistant/internal/identity"
	"github.com/ashureev/jobmato-assistant/internal/llm"
	"github.com/ashureev/jobmato-assistant/internal/middleware"
	"github.com/ashureev/jobmato-assistant/internal/realtime"
	"github.com/ashureev/jobmato-assistant/internal/session"
	"github.com/ashureev/jobmato-assistant/internal/store"
	"github.com/ashureev/jobmato-assistant/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"db_driver", cfg.DB.Driver, "conversation_driver", cfg.Conversation.Driver, "llm_provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Warn("Session store unavailable, sessions will live in memory", "error", err)
	} else {
		defer closeStore("session store", repo)
	}

	messageLog, err := openMessageLog(ctx, cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize conversation log", "error", err)
		os.Exit(1)
	}
	if messageLog != store.MessageLog(repo) {
		defer closeStore("conversation log", messageLog)
	}

	var sessionStore store.SessionStore
	if repo != nil {
		sessionStore = repo
	}
	registry := session.NewRegistry(sessionStore, cfg.Session.TTL, session.WithFallback(store.NewMemoryStore()))
	memory := conversation.NewManager(messageLog, cfg.Session.WindowSize)
	defer memory.Close()

	// Text generation.
	completer, closeCompleter := newCompleter(cfg, logger)
	defer closeCompleter()

	skills := catalog.Default()
	if cfg.Agent.SkillMapFile != "" {
		skills, err = catalog.LoadFile(cfg.Agent.SkillMapFile)
		if err != nil {
			slog.Error("Failed to load skill map", "path", cfg.Agent.SkillMapFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Skill map loaded", "path", cfg.Agent.SkillMapFile, "roles", len(skills.Roles()))
	}

	var primary classifier.Classifier
	if completer != nil {
		primary = classifier.NewLLM(completer)
	}
	cls := classifier.NewChain(primary, classifier.NewRules(skills), cfg.Agent.ClassifyTimeout, cfg.Agent.MinConfidence)

	// Tools and the turn pipeline.
	backend := gateway.NewClient(cfg.Tools.BaseURL, &http.Client{Timeout: cfg.Agent.TurnTimeout})
	tools := gateway.New(cfg.Agent.ToolTimeout, gateway.Tools(backend)...)
	dispatcher := agent.NewDispatcher(tools, agent.DefaultPolicy(), skills, cfg.Agent.ToolBudget, cfg.Agent.DispatchDeadline)
	composer := agent.NewComposer(completer, cfg.Agent.ComposeTimeout)
	svc := agent.NewService(agent.Config{
		ToolBudget:       cfg.Agent.ToolBudget,
		DispatchDeadline: cfg.Agent.DispatchDeadline,
		ComposeTimeout:   cfg.Agent.ComposeTimeout,
		TurnTimeout:      cfg.Agent.TurnTimeout,
		MaxMessageLength: cfg.Agent.MaxMessageLength,
	}, memory, cls, dispatcher, composer)

	// Transports.
	auth := identity.NewAuthenticator(cfg.JWT.Secret)
	hub := realtime.NewHub()
	scheduler := realtime.NewScheduler(context.Background(), cfg.Realtime.QueueDepth)

	messageLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer messageLimiter.Stop()
	httpLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer httpLimiter.Stop()

	wsHandler := realtime.NewHandler(realtime.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PingTimeout:    cfg.Realtime.PingTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		MaxEventBytes:  cfg.Realtime.MaxEventBytes,
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
	}, auth, registry, memory, svc, hub, scheduler, messageLimiter)

	apiHandler := api.NewHandler(auth, registry, memory, svc, scheduler, wsHandler, httpLimiter, cfg.Upload)
	if repo != nil {
		apiHandler.AddCheck("sessions", repo.Ping)
	}
	apiHandler.AddCheck("conversations", messageLog.Ping)

	session.StartSweeper(ctx, registry, messageLog, session.SweeperConfig{
		Interval:  cfg.Session.SweepInterval,
		Retention: cfg.Session.Retention,
	}, func(sessionID string) {
		wsHandler.CloseSession(sessionID)
		memory.Forget(sessionID)
	})

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/ws", wsHandler.ServeHTTP)
	apiHandler.RegisterRoutes(r)
	r.Handle("/*", web.Handler())

	// Websocket connections are hijacked and not bound by WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.Agent.TurnTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	scheduler.Close()

	slog.Info("Server stopped successfully")
}

func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	if cfg.DB.Driver == "postgres" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := store.NewPostgres(connectCtx, cfg.DB.URL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	db, err := store.NewSQLite(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openMessageLog picks the durable conversation log. The "sql" driver shares
// the session repository and degrades to memory when it is unavailable.
func openMessageLog(ctx context.Context, cfg *config.Config, repo store.Repository) (store.MessageLog, error) {
	switch cfg.Conversation.Driver {
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mongoLog, err := store.NewMongoLog(connectCtx, cfg.Conversation.MongoURI, cfg.Conversation.MongoDatabase, cfg.Conversation.MongoCollection)
		if err != nil {
			return nil, err
		}
		return mongoLog, nil
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		if repo == nil {
			slog.Warn("Conversation log falls back to memory; history will not survive a restart")
			return store.NewMemoryStore(), nil
		}
		return repo, nil
	}
}

// newCompleter returns the configured backend, or nil when generation is
// disabled or unreachable. The returned func releases it.
func newCompleter(cfg *config.Config, logger *slog.Logger) (llm.Completer, func()) {
	switch cfg.LLM.Provider {
	case "openai":
		slog.Info("Text generation via OpenAI-compatible API", "model", cfg.LLM.Model)
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      cfg.LLM.OpenAIAPIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}), func() {}
	case "grpc":
		client, err := llm.NewGrpcClient(llm.DefaultGrpcClientConfig(cfg.LLM.GrpcAddr), logger)
		if err != nil {
			slog.Warn("Failed to connect to generation service, using rule-based replies", "address", cfg.LLM.GrpcAddr, "error", err)
			return nil, func() {}
		}
		return client, client.Close
	default:
		slog.Info("Text generation disabled, using rule-based classification and templated replies")
		return nil, func() {}
	}
}

// originPatterns converts allowed origins into the host patterns the
// websocket handshake matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	return patterns
}

type closer interface {
	Close() error
}

func closeStore(name string, c closer) {
	if err := c.Close(); err != nil {
		slog.Error("Failed to close "+name, "error", err)
	}
}
