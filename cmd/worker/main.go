package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/suPer8Hu/testerhub/internal/app"
	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/logging"
	"github.com/suPer8Hu/testerhub/internal/store/rabbitmq"
)

const maxAttempts = 5

func main() {
	cfg := config.Load()
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		jww.FATAL.Fatalf("init logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg)
	if err != nil {
		jww.FATAL.Fatalf("open backends: %v", err)
	}
	defer backends.Close()

	// only the reconciler is used here. With REALTIME_BACKEND=redis its
	// repair events reach index views open on the API nodes.
	cfg.ReconcileMode = "off"
	a := app.New(cfg, app.Deps{DB: backends.DB, Broker: backends.Broker, Cache: backends.Cache()})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		jww.FATAL.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		jww.FATAL.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		jww.FATAL.Fatalf("queue declare: %v", err)
	}
	retries := rabbitmq.NewPublisherOnChannel(ch, cfg.RabbitQueue)

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		jww.FATAL.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		jww.FATAL.Fatalf("consume: %v", err)
	}

	jww.INFO.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, workerID, a.Reconciler, retries, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			jww.INFO.Println("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				jww.ERROR.Println("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleDelivery acks on success, parks failed jobs on the retry queue and
// dead-letters them after maxAttempts.
func handleDelivery(ctx context.Context, workerID int, rec *chat.Reconciler, retries *rabbitmq.Publisher, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		jww.WARN.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err := rec.RunJob(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			jww.WARN.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
		}
		if cost := time.Since(start); cost > 2*time.Second {
			jww.INFO.Printf("job_timing job=%s total=%s", m.JobID, cost)
		}
		return
	}

	jww.WARN.Printf("worker=%d job %s failed attempt=%d cost=%s err=%v",
		workerID, m.JobID, m.Attempt, time.Since(start), err)

	next := rabbitmq.JobMessage{JobID: m.JobID, Attempt: m.Attempt + 1}
	if next.Attempt >= maxAttempts {
		_ = d.Nack(false, false)
		return
	}
	if err := retries.PublishRetry(ctx, next, rabbitmq.RetryDelay(next.Attempt)); err != nil {
		jww.ERROR.Printf("worker=%d retry publish failed job=%s err=%v", workerID, m.JobID, err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
