package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"salesops-backend/internal/bootstrap"
	"salesops-backend/internal/queue"
	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/shared/metrics"
	"salesops-backend/internal/shared/storage/db"
	"salesops-backend/internal/shared/telemetry"
	"salesops-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	if err := telemetry.Setup(telemetry.Options{LogFile: cfg.LogFile, Level: cfg.LogLevel}); err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}
	defer telemetry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := queue.NewSQSClient(ctx, queue.SQSOptions{
		QueueURL:          cfg.SQSQueueURL,
		Region:            cfg.AWSRegion,
		VisibilitySeconds: cfg.SQSVisibilitySeconds,
	})
	if err != nil {
		log.Fatalf("sqs client: %v", err)
	}

	// The worker executes in-process; it must not re-dispatch to the queue.
	cfg.JobDispatch = config.DispatchInProcess
	app, err := bootstrap.Build(ctx, cfg, bootstrap.WithDBOptions(db.DefaultWorkerOptions(cfg.WorkerConcurrency)))
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	telemetry.Info("worker.started", map[string]any{
		"queue":       cfg.SQSQueueURL,
		"concurrency": cfg.WorkerConcurrency,
		"visibility":  cfg.SQSVisibilitySeconds,
	})
	poll(ctx, consumer, app.Jobs, cfg.WorkerConcurrency, cfg.ShutdownTimeout)
}

func poll(ctx context.Context, consumer queue.Consumer, processor workerproc.Processor, concurrency int, shutdownTimeout time.Duration) {
	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

pollLoop:
	for {
		if ctx.Err() != nil {
			break
		}

		deliveries, err := consumer.Receive(ctx, cap(sem))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncWorkerMessagesReceived()
			wg.Add(1)
			go func(d queue.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				// In-flight jobs finish even after shutdown is requested.
				handleMessage(context.WithoutCancel(ctx), consumer, processor, d)
			}(d)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": shutdownTimeout.String()})
	}
}

func handleMessage(ctx context.Context, consumer queue.Consumer, processor workerproc.Processor, d queue.Delivery) {
	msg, err := workerproc.ParseMessage(d.Body)
	if err != nil {
		fields := baseFields(d, msg.JobID, msg.RequestID)
		var malformed *workerproc.MalformedError
		if errors.As(err, &malformed) {
			fields["body_len"] = malformed.BodyLen
			fields["body_sha256"] = malformed.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.job.decode_failed", fields)
		if deleteMessage(ctx, consumer, d, msg.JobID, msg.RequestID) {
			metrics.IncWorkerMessagesDiscarded()
		}
		return
	}

	telemetry.Info("worker.job.received", baseFields(d, msg.JobID, msg.RequestID))

	if err := workerproc.HandleMessage(ctx, processor, msg); err != nil {
		fields := baseFields(d, msg.JobID, msg.RequestID)
		fields["error"] = err.Error()
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.job.discarded", fields)
			if deleteMessage(ctx, consumer, d, msg.JobID, msg.RequestID) {
				metrics.IncWorkerMessagesDiscarded()
			}
			return
		}
		telemetry.Error("worker.job.failed", fields)
		return
	}

	if deleteMessage(ctx, consumer, d, msg.JobID, msg.RequestID) {
		telemetry.Info("worker.job.completed", baseFields(d, msg.JobID, msg.RequestID))
	}
}

func deleteMessage(ctx context.Context, consumer queue.Consumer, d queue.Delivery, jobID, requestID string) bool {
	if err := consumer.Delete(ctx, d.ReceiptHandle); err != nil {
		fields := baseFields(d, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(d queue.Delivery, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":         jobID,
		"sqs_message_id": d.MessageID,
		"receive_count":  d.ReceiveCount,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
