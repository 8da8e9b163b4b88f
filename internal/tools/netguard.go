package tools

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

const maxRedirects = 5

// ErrBlockedAddress is returned when a fetch would reach a loopback, private,
// link-local or otherwise non-public address.
var ErrBlockedAddress = errors.New("destination address not allowed")

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598). Some clouds
// serve instance metadata from it.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// NewPublicHTTPClient returns a client that only connects to public unicast
// addresses. The check runs on the resolved IP at dial time, so names that
// resolve to internal hosts and every redirect hop are covered. Proxies are
// disabled so the check sees the real destination. A non-positive timeout
// selects the package default.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   rejectNonPublic,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
}

func rejectNonPublic(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to %s URL", ErrInvalidInput, req.URL.Scheme)
	}
	// Literal IPs fail fast; hostnames are checked after resolution at dial.
	if ip, err := netip.ParseAddr(req.URL.Hostname()); err == nil && !publicAddr(ip) {
		return fmt.Errorf("%w: redirect to %s", ErrBlockedAddress, ip)
	}
	return nil
}

func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || !ip.IsGlobalUnicast() {
		return false
	}
	return !ip.IsPrivate() && !sharedAddressSpace.Contains(ip)
}
