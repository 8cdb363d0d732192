package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-go-chat-gateway/internal/audit"
	"backend-go-chat-gateway/internal/breaker"
	"backend-go-chat-gateway/internal/config"
	"backend-go-chat-gateway/internal/gateway"
	"backend-go-chat-gateway/internal/httpapi"
	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/logger"
	"backend-go-chat-gateway/internal/notify"
	"backend-go-chat-gateway/internal/outfit"
	"backend-go-chat-gateway/internal/pending"
	"backend-go-chat-gateway/internal/ratelimit"
	"backend-go-chat-gateway/internal/tools"
	"backend-go-chat-gateway/internal/wardrobe"

	"github.com/go-redis/redis/v8"
)

const janitorInterval = time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	log := logger.NewContextLogger(ctx)

	cfg, err := config.ConfigFromEnv()
	if err != nil {
		logger.Fatalf(log, "config_load_failed", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf(log, "config_invalid", "error", err)
	}

	shutdownOTel, promHandler, err := initOpenTelemetry(ctx)
	if err != nil {
		logger.Fatalf(log, "otel_init_failed", "error", err)
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	store, err := wardrobe.OpenSQLite(cfg.WardrobeDBPath)
	if err != nil {
		logger.Fatalf(log, "wardrobe_db_open_failed", "path", cfg.WardrobeDBPath, "error", err)
	}
	defer func() { _ = store.Close() }()

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Warn("audit_db_unavailable", "path", cfg.AuditDBPath, "error", err)
		auditLog = nil
	}
	defer func() { _ = auditLog.Close() }()

	var events *notify.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis_unavailable", "addr", cfg.RedisAddr, "error", err)
		} else {
			events = notify.NewPublisher(rdb, cfg.EventsChannel)
		}
		pingCancel()
	}

	model, err := llm.New(cfg.LLM)
	if err != nil {
		logger.Fatalf(log, "llm_init_failed", "provider", cfg.LLM.Provider, "error", err)
	}
	llmBreaker := breaker.New("llm", breaker.Settings{
		Threshold:     cfg.LLMBreaker.Threshold,
		Cooldown:      cfg.LLMBreaker.Cooldown,
		OnStateChange: breakerTransitions(),
	}, log)

	exec := tools.NewExecutor(
		tools.MustCatalog(),
		tools.Env{Store: store, Outfits: outfit.NewRuleSuggester()},
		cfg.ToolTimeout,
	)
	confirms := pending.NewConfirmations(cfg.ConfirmTTL)
	pages := pending.NewPages(cfg.PaginationTTL)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Window, cfg.RateLimit.Limits)

	deps := gateway.Deps{
		Executor:      exec,
		Model:         llm.NewClient(model, llmBreaker),
		Confirmations: confirms,
		Pages:         pages,
	}
	if auditLog != nil {
		deps.Audit = auditLog
	}
	if events != nil {
		deps.Events = events
	}
	gw := gateway.New(deps, gateway.Options{
		ListWindow:        cfg.ListWindow,
		PlannerTimeout:    cfg.PlannerTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	})

	go confirms.Store().RunJanitor(ctx, janitorInterval)
	go pages.Store().RunJanitor(ctx, janitorInterval)
	go limiter.RunJanitor(ctx)

	auth := httpapi.NewAuthenticator(cfg.JWTSecret)
	if auth.DevMode() {
		log.Warn("auth_dev_mode", "warning", "JWT_SECRET not set - trusting "+httpapi.DevUserHeader+" (INSECURE)")
	}

	srv := httpapi.NewServer(httpapi.Options{
		Gateway:   gw,
		Executor:  exec,
		Limiter:   limiter,
		Auth:      auth,
		Limits:    cfg.Limits,
		Heartbeat: cfg.HeartbeatInterval,
		Metrics:   promHandler,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("chat_gateway_listening", "port", cfg.Port, "llm_provider", cfg.LLM.Provider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf(log, "http_server_failed", "port", cfg.Port, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("server_shutdown_start")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if err := server.Shutdown(ctxTimeout); err != nil {
		log.Error("server_shutdown_forced", "error", err)
		return
	}
	log.Info("server_shutdown_complete")
}
