package queue

import "context"

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is a received message plus the handle needed to acknowledge it.
type Delivery struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	ReceiveCount  int
}

// Consumer receives and acknowledges messages.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}
