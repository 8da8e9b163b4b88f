// Package workerproc turns dispatch message bodies into job executions.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"salesops-backend/internal/jobs"
	"salesops-backend/internal/queue"
)

// MalformedError is returned for payloads that can never be executed. The
// body digest lets operators find the message without logging its content.
type MalformedError struct {
	Reason  string
	BodyLen int
	BodySHA string
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return "malformed message: " + e.Reason + ": " + e.Err.Error()
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ProcessError wraps an execution failure for a well-formed message.
type ProcessError struct {
	JobID string
	Err   error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("job %s: %v", e.JobID, e.Err) }

func (e *ProcessError) Unwrap() error { return e.Err }

// Unrecoverable reports whether redelivery can never succeed, so the
// message should be acknowledged and dropped.
func Unrecoverable(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed) || errors.Is(err, jobs.ErrNotFound)
}

// Processor executes a persisted job.
type Processor interface {
	Execute(ctx context.Context, jobID string) error
}

// ParseMessage decodes and validates a dispatch body. Messages from a newer
// producer than this worker understands are rejected.
func ParseMessage(body string) (queue.Message, error) {
	malformed := func(reason string, err error) *MalformedError {
		e := &MalformedError{Reason: reason, BodyLen: len(body), Err: err}
		if body != "" {
			sum := sha256.Sum256([]byte(body))
			e.BodySHA = hex.EncodeToString(sum[:])
		}
		return e
	}

	if strings.TrimSpace(body) == "" {
		return queue.Message{}, malformed("empty body", nil)
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, malformed("decode", err)
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return msg, malformed("missing jobId", nil)
	}
	if msg.Version > queue.MessageVersion {
		return msg, malformed(fmt.Sprintf("unsupported version %d", msg.Version), nil)
	}
	return msg, nil
}

// HandleMessage runs the job named by a parsed message under its request ID.
func HandleMessage(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errors.New("job service not configured")
	}
	ctx = jobs.WithRequestID(ctx, msg.RequestID)
	if err := processor.Execute(ctx, msg.JobID); err != nil {
		return &ProcessError{JobID: msg.JobID, Err: err}
	}
	return nil
}
