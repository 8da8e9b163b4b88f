package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"
)

func TestPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "127.0.0.1", want: false},
		{addr: "10.1.2.3", want: false},
		{addr: "172.16.0.9", want: false},
		{addr: "192.168.1.1", want: false},
		{addr: "169.254.169.254", want: false},
		{addr: "100.100.100.200", want: false},
		{addr: "0.0.0.0", want: false},
		{addr: "::1", want: false},
		{addr: "::", want: false},
		{addr: "fe80::1", want: false},
		{addr: "fd00:ec2::254", want: false},
		{addr: "::ffff:127.0.0.1", want: false},
		{addr: "224.0.0.1", want: false},
		{addr: "8.8.8.8", want: true},
		{addr: "2606:4700:4700::1111", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			if got := publicAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Fatalf("publicAddr(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestFetchURLBlocksLoopback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	tool := NewFetchURL(NewPublicHTTPClient(time.Second))
	_, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`/admin"}`))
	if !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("server was reached %d times", hits)
	}
}

func TestFetchURLBlocksMetadataAddress(t *testing.T) {
	tool := NewFetchURL(NewPublicHTTPClient(time.Second))
	_, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"http://169.254.169.254/latest/meta-data/"}`))
	if !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress, got %v", err)
	}
}

func TestCheckRedirect(t *testing.T) {
	redirect := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		return &http.Request{URL: u}
	}

	if err := checkRedirect(redirect("http://169.254.169.254/latest"), nil); !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress, got %v", err)
	}
	if err := checkRedirect(redirect("http://[::1]:8080/"), nil); !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress for ::1, got %v", err)
	}
	if err := checkRedirect(redirect("file:///etc/passwd"), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := checkRedirect(redirect("https://example.com/next"), nil); err != nil {
		t.Fatalf("public redirect rejected: %v", err)
	}
	via := make([]*http.Request, maxRedirects)
	if err := checkRedirect(redirect("https://example.com/next"), via); err == nil {
		t.Fatalf("expected redirect limit error")
	}
}

func TestRejectNonPublicChecksResolvedAddress(t *testing.T) {
	if err := rejectNonPublic("tcp4", "10.0.0.5:443", nil); !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("expected ErrBlockedAddress, got %v", err)
	}
	if err := rejectNonPublic("tcp6", "[2606:4700:4700::1111]:443", nil); err != nil {
		t.Fatalf("public address rejected: %v", err)
	}
}
