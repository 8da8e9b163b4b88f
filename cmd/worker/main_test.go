package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesops-backend/internal/jobs"
	"salesops-backend/internal/queue"
)

type fakeConsumer struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
	deleted    []string
	cancel     context.CancelFunc
}

func (f *fakeConsumer) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deliveries) == 0 {
		f.cancel()
		return nil, ctx.Err()
	}
	out := f.deliveries
	f.deliveries = nil
	return out, nil
}

func (f *fakeConsumer) Delete(ctx context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *fakeConsumer) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeProcessor struct {
	mu   sync.Mutex
	err  error
	seen []string
}

func (f *fakeProcessor) Execute(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, jobID)
	return f.err
}

func delivery(t *testing.T, receipt, jobID string) queue.Delivery {
	t.Helper()
	body, err := queue.EncodeMessage(queue.Message{JobID: jobID, RequestID: "req-" + jobID})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return queue.Delivery{MessageID: "m-" + receipt, ReceiptHandle: receipt, Body: string(body), ReceiveCount: 1}
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	consumer := &fakeConsumer{}
	proc := &fakeProcessor{}

	handleMessage(context.Background(), consumer, proc, delivery(t, "r1", "job-1"))

	if got := consumer.Deleted(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected delete of r1, got %v", got)
	}
	if len(proc.seen) != 1 || proc.seen[0] != "job-1" {
		t.Fatalf("unexpected executions %v", proc.seen)
	}
}

func TestWorkerDoesNotDeleteOnFailure(t *testing.T) {
	consumer := &fakeConsumer{}
	proc := &fakeProcessor{err: errors.New("boom")}

	handleMessage(context.Background(), consumer, proc, delivery(t, "r2", "job-2"))

	if got := consumer.Deleted(); len(got) != 0 {
		t.Fatalf("expected no delete, got %v", got)
	}
}

func TestWorkerDeletesUnknownJob(t *testing.T) {
	consumer := &fakeConsumer{}
	proc := &fakeProcessor{err: jobs.ErrNotFound}

	handleMessage(context.Background(), consumer, proc, delivery(t, "r3", "ghost"))

	if got := consumer.Deleted(); len(got) != 1 {
		t.Fatalf("expected delete, got %v", got)
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	consumer := &fakeConsumer{}
	proc := &fakeProcessor{}

	handleMessage(context.Background(), consumer, proc, queue.Delivery{MessageID: "m4", ReceiptHandle: "r4", Body: "{bad-json"})

	if got := consumer.Deleted(); len(got) != 1 {
		t.Fatalf("expected delete, got %v", got)
	}
	if len(proc.seen) != 0 {
		t.Fatalf("processor must not run for undecodable messages")
	}
}

func TestPollDrainsDeliveriesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &fakeConsumer{cancel: cancel, deliveries: []queue.Delivery{
		delivery(t, "a", "job-a"),
		delivery(t, "b", "job-b"),
		delivery(t, "c", "job-c"),
	}}
	proc := &fakeProcessor{}

	poll(ctx, consumer, proc, 2, time.Second)

	if got := consumer.Deleted(); len(got) != 3 {
		t.Fatalf("expected 3 deletes, got %v", got)
	}
}
