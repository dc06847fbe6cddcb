// Package diagnostics checks connectivity around the running engine: the
// public address seen from outside and whether the local SOCKS listener
// forwards traffic.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"golang.org/x/net/proxy"

	"mihomo-launcher/internal/constants"
)

// DefaultTarget is dialed through the proxy to prove it forwards traffic.
const DefaultTarget = "www.gstatic.com:80"

// Report is the outcome of one Check.
type Report struct {
	PublicIP       string
	ProxyReachable bool
	CheckedAt      time.Time
	Err            error
}

// Checker runs the connectivity checks. Zero fields take defaults.
type Checker struct {
	STUNServer string
	Target     string
	Timeout    time.Duration
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 5 * time.Second
}

// PublicIP asks the STUN server for the address this host is seen from.
func (c *Checker) PublicIP(ctx context.Context) (string, error) {
	server := c.STUNServer
	if server == "" {
		server = constants.DefaultSTUNServer
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return "", fmt.Errorf("failed to dial STUN server: %w", err)
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("failed to create STUN client: %w", err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	type result struct {
		ip  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		var xorAddr stun.XORMappedAddress
		var resErr error
		err := client.Do(message, func(ev stun.Event) {
			if ev.Error != nil {
				resErr = ev.Error
				return
			}
			resErr = xorAddr.GetFrom(ev.Message)
		})
		if err == nil {
			err = resErr
		}
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{ip: xorAddr.IP.String()}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("STUN request failed: %w", r.err)
		}
		return r.ip, nil
	case <-ctx.Done():
		return "", fmt.Errorf("STUN request timed out: %w", ctx.Err())
	}
}

// ProxyReachable opens a connection to the target through the SOCKS5
// listener at proxyAddr.
func (c *Checker) ProxyReachable(ctx context.Context, proxyAddr string) error {
	target := c.Target
	if target == "" {
		target = DefaultTarget
	}
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{Timeout: c.timeout()})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("failed to reach %s through %s: %w", target, proxyAddr, err)
	}
	return conn.Close()
}

// Check runs both checks. The SOCKS check is skipped when proxyAddr is empty.
func (c *Checker) Check(ctx context.Context, proxyAddr string) Report {
	r := Report{CheckedAt: time.Now()}
	var errs []error
	ip, err := c.PublicIP(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	r.PublicIP = ip
	if proxyAddr != "" {
		if err := c.ProxyReachable(ctx, proxyAddr); err != nil {
			errs = append(errs, err)
		} else {
			r.ProxyReachable = true
		}
	}
	r.Err = errors.Join(errs...)
	return r
}
