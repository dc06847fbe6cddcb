// Package netutil holds the HTTP client settings and network error wording
// shared by the controller client and the subscription fetcher.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// DialTimeout bounds establishing a connection.
	DialTimeout = 5 * time.Second
	// RequestTimeout bounds one controller request.
	RequestTimeout = 20 * time.Second
)

// NewHTTPClient returns a client with sane dial, TLS and idle timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// IsNetworkError reports whether err comes from the network rather than
// from the remote side's answer.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &netErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Message turns a network error into a short human-readable sentence.
func Message(err error) string {
	if err == nil {
		return "unknown network error"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS error: cannot resolve hostname (%s)", dnsErr.Name)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "network error: cannot connect to server"
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timeout: operation took too long"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "network timeout: connection timed out"
	}
	return fmt.Sprintf("network error: %s", err.Error())
}
