package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"mihomo-launcher/internal/constants"
	"mihomo-launcher/internal/debuglog"
	"mihomo-launcher/internal/netutil"
)

const (
	// NetworkRequestTimeout bounds one subscription download attempt.
	NetworkRequestTimeout = 30 * time.Second
	// MaxSubscriptionSize caps the downloaded configuration.
	MaxSubscriptionSize = 10 * 1024 * 1024
)

// Fetcher downloads provider configurations with retries.
type Fetcher struct {
	Client    *retryablehttp.Client
	UserAgent string
	MaxSize   int64
}

// NewFetcher returns a fetcher retrying transient failures three times.
func NewFetcher() *Fetcher {
	client := retryablehttp.NewClient()
	client.HTTPClient = netutil.NewHTTPClient(NetworkRequestTimeout)
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = leveledLogger{log: debuglog.WithComponent("fetcher")}
	return &Fetcher{
		Client:    client,
		UserAgent: constants.SubscriptionUserAgent,
		MaxSize:   MaxSubscriptionSize,
	}
}

// Fetch returns the body served at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Providers answer clash clients with YAML instead of a node list.
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		if netutil.IsNetworkError(err) {
			return nil, fmt.Errorf("%s: %w", netutil.Message(err), err)
		}
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	defer debuglog.RunAndLog("Fetch: close response body", resp.Body.Close)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscription server returned status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription content: %w", err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("subscription returned empty content")
	}
	if int64(len(content)) > f.MaxSize {
		return nil, fmt.Errorf("subscription content exceeds %d bytes", f.MaxSize)
	}
	return content, nil
}

// leveledLogger routes retryablehttp's logs into zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }

// decodeBase64 undoes the base64 wrapping some providers put around the
// configuration, trying the URL-safe and standard alphabets with and without
// padding.
func decodeBase64(content []byte) ([]byte, bool) {
	s := strings.TrimSpace(string(content))
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding.WithPadding(base64.NoPadding),
		base64.StdEncoding.WithPadding(base64.NoPadding),
		base64.URLEncoding,
		base64.StdEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil && utf8.Valid(decoded) {
			return decoded, true
		}
	}
	return nil, false
}
