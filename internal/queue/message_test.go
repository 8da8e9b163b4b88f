package queue

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := NewMessage("job-123", "request-456", time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC))
	if msg.EnqueuedAt != "2026-01-30T22:00:00Z" || msg.Version != MessageVersion {
		t.Fatalf("unexpected message %+v", msg)
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	if !strings.Contains(string(payload), `"jobId":"job-123"`) {
		t.Fatalf("unexpected payload %s", payload)
	}

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestDecodeMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte("{bad")); err == nil {
		t.Fatalf("expected decode error")
	}
}
