package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"madrasa/internal/attendance"
	"madrasa/internal/config"
	"madrasa/internal/queue"
	"madrasa/internal/session"
	"madrasa/internal/store"
)

// Worker consumes session events from the queue and turns them into durable
// audit rows and log lines. It is the delivery end of the notification
// pipeline; the session itself never talks to a presentation layer.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "madrasa:events")
	}

	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Printf("warning: migrate failed: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for session events...")
	for msg := range messages {
		var evt session.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("skipping malformed event %q: %v", msg.Type, err)
			continue
		}

		switch evt.Kind {
		case session.EventSuspicious:
			log.Printf("ALERT: suspicious activity for %s (%s): %s", evt.StudentName, evt.StudentID, evt.Detail)
		case session.EventCommitted:
			log.Printf("%s: %s", evt.Date, evt.Detail)
		default:
			log.Printf("event %s: student=%s detail=%s", evt.Kind, evt.StudentID, evt.Detail)
		}

		audit := attendance.AuditEvent{
			Kind:      evt.Kind,
			StudentID: evt.StudentID,
			Detail:    evt.Detail,
		}
		if err := repo.InsertAudit(ctx, audit); err != nil {
			log.Printf("audit insert failed for %s: %v", evt.Kind, err)
			continue
		}

		time.Sleep(10 * time.Millisecond) // Small delay between processing
	}

	log.Println("worker stopped")
}
