// Package api talks to the engine's external controller, the REST surface
// mihomo exposes for status, proxy groups, delay probes and hot reloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mihomo-launcher/core/config"
	"mihomo-launcher/internal/constants"
	"mihomo-launcher/internal/netutil"
)

const maxErrorBody = 4 << 10

// ErrNoController is returned when a configuration does not enable the
// external controller.
var ErrNoController = errors.New("external controller is not configured")

// StatusError is a non-2xx controller reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("controller returned status %d", e.Code)
	}
	return fmt.Sprintf("controller returned status %d: %s", e.Code, e.Message)
}

// History is one remembered delay of a proxy.
type History struct {
	Time  string `json:"time"`
	Delay int    `json:"delay"`
}

// Proxy is one entry of GET /proxies. Groups also carry Now and All.
type Proxy struct {
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Now     string    `json:"now,omitempty"`
	All     []string  `json:"all,omitempty"`
	History []History `json:"history,omitempty"`
}

type proxiesResponse struct {
	Proxies map[string]Proxy `json:"proxies"`
}

type versionResponse struct {
	Version string `json:"version"`
	Meta    bool   `json:"meta"`
}

type delayResponse struct {
	Delay   int    `json:"delay"`
	Message string `json:"message"`
}

// Client is a small external controller client. The zero value is not usable;
// build one with NewClient.
type Client struct {
	BaseURL      string
	Secret       string
	DelayURL     string
	DelayTimeout time.Duration
	HTTP         *http.Client
}

// NewClient returns a client for the controller at addr, which may be a bare
// host:port or a full URL.
func NewClient(addr, secret string) *Client {
	return &Client{
		BaseURL:      baseURL(addr),
		Secret:       secret,
		DelayURL:     constants.DefaultDelayTestURL,
		DelayTimeout: constants.DefaultDelayTimeout,
		HTTP:         netutil.NewHTTPClient(netutil.RequestTimeout),
	}
}

func baseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// LoadControllerConfig reads external-controller and secret from the engine
// configuration at path. Wildcard and empty hosts are rewritten to loopback.
func LoadControllerConfig(path string) (addr, secret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := config.Parse(string(data))
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(doc.ExternalController) == "" {
		return "", "", ErrNoController
	}
	return NormalizeController(doc.ExternalController), doc.Secret, nil
}

// NormalizeController turns a listen address into a dialable one.
func NormalizeController(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.Secret)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if netutil.IsNetworkError(err) {
			return fmt.Errorf("%s: %w", netutil.Message(err), err)
		}
		return fmt.Errorf("failed to execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var msg delayResponse
		if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
			return &StatusError{Code: resp.StatusCode, Message: msg.Message}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", path, err)
	}
	return nil
}

// Version returns the engine version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v versionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Proxies returns the engine's proxy table keyed by name.
func (c *Client) Proxies(ctx context.Context) (map[string]Proxy, error) {
	var r proxiesResponse
	if err := c.do(ctx, http.MethodGet, "/proxies", nil, &r); err != nil {
		return nil, err
	}
	if r.Proxies == nil {
		r.Proxies = map[string]Proxy{}
	}
	return r.Proxies, nil
}

// SwitchProxy makes name the active member of group.
func (c *Client) SwitchProxy(ctx context.Context, group, name string) error {
	return c.do(ctx, http.MethodPut, "/proxies/"+url.PathEscape(group), map[string]string{"name": name}, nil)
}

// Delay asks the engine to probe name against DelayURL and returns the
// round trip in milliseconds.
func (c *Client) Delay(ctx context.Context, name string) (int, error) {
	params := url.Values{}
	params.Set("url", c.DelayURL)
	params.Set("timeout", strconv.FormatInt(c.DelayTimeout.Milliseconds(), 10))
	path := fmt.Sprintf("/proxies/%s/delay?%s", url.PathEscape(name), params.Encode())

	var r delayResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return 0, err
	}
	if r.Delay <= 0 {
		if r.Message != "" {
			return 0, errors.New(r.Message)
		}
		return 0, fmt.Errorf("no delay reported for %s", name)
	}
	return r.Delay, nil
}

// ReloadConfig makes the engine re-read the configuration file at path.
func (c *Client) ReloadConfig(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPut, "/configs?force=true", map[string]string{"path": path}, nil)
}
