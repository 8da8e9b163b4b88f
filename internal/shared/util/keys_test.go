package util

import (
	"errors"
	"strings"
	"testing"
)

func TestKeySegment(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "0061x00000AbCdE", want: "0061x00000AbCdE"},
		{name: "separators", in: "acme/emea\\west", want: "acme_emea_west"},
		{name: "whitespace", in: "  acme corp\t1 ", want: "acme_corp_1"},
		{name: "control chars", in: "id\x00\x07x", want: "idx"},
		{name: "traversal", in: "../etc", wantErr: true},
		{name: "empty", in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeySegment(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeySegment) {
					t.Fatalf("expected ErrInvalidKeySegment, got %q, %v", got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("KeySegment(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestKeySegmentCapsLength(t *testing.T) {
	got, err := KeySegment(strings.Repeat("x", 300))
	if err != nil {
		t.Fatalf("KeySegment: %v", err)
	}
	if len(got) != maxKeySegment {
		t.Fatalf("expected %d chars, got %d", maxKeySegment, len(got))
	}
}
