package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"classattend/internal/config"
	"classattend/internal/notify"
	"classattend/internal/queue"
	"classattend/internal/store"
)

// The worker drains the notification queue and writes each message into the
// recipient's inbox table. It is the delivery half of the fire-and-forget
// contract: the API enqueues and moves on, the worker retries by redelivery.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
	cfg := config.Load()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer db.Close()
	if err := store.EnsureSchema(db.Client); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	q := queue.NewRedisQueue(redisClient.Client, "classattend:notifications")
	notices := notify.NewPGStore(db.Client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down worker...")
		cancel()
	}()

	log.Println("worker started, waiting for notifications")
	if err := notify.Deliver(ctx, q, notices); err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}
	log.Println("worker exited")
}
