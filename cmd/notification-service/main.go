package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"backend-go-chat-gateway/internal/logger"
	"backend-go-chat-gateway/internal/notify"

	"github.com/go-redis/redis/v8"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	log := logger.NewContextLogger(ctx)

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	channel := getenv("WARDROBE_EVENTS_CHANNEL", "wardrobe_events")

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf(log, "redis_connect_failed", "addr", redisAddr, "error", err)
	}
	log.Info("notification_service_subscribed", "channel", channel, "addr", redisAddr)

	err := notify.Listen(ctx, rdb, channel, func(ev notify.Event) {
		log.Info("wardrobe_changed",
			"trace_id", ev.TraceID,
			"user_id", ev.UserID,
			"tool", ev.Tool,
			"status", ev.Status,
			"at", ev.Timestamp,
		)
	})
	if err != nil {
		logger.Fatalf(log, "subscription_failed", "error", err)
	}
	log.Info("notification_service_shutdown")
}
