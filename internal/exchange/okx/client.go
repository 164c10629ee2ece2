// Package okx implements the Exchange Gateway contract against an
// OKX-style perpetual futures REST + WebSocket API. It is the only
// concrete exchange.Gateway this engine ships.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/perpscalp/engine/internal/safety"
)

const (
	restTimeoutDefault = 5 * time.Second
	restTimeoutHot     = 2 * time.Second
	restConcurrency    = 5
)

// Credentials are the exchange API key/secret/passphrase triple. Never
// logged; callers must source these from the environment, not config files.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Client is the OKX Gateway implementation. One Client is shared by every
// REST caller in the process; restLimiter is a token bucket (restConcurrency
// tokens, refilled at restConcurrency per second) that caps the REST request
// rate rather than the number of calls in flight, and breaker trips on sustained 5xx/rate-limit
// errors so a degraded venue doesn't get hammered by retries.
type Client struct {
	http        *resty.Client
	creds       Credentials
	restLimiter *safety.RateLimiter
	breaker     *safety.CircuitBreaker
	ws          *wsManager
}

// Config bundles what NewClient needs beyond credentials.
type Config struct {
	BaseURL             string
	WSPublicURL         string
	WSPrivateURL        string
	CircuitFailureLimit int
	CircuitResetSeconds int
}

func NewClient(creds Credentials, cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(restTimeoutDefault).
		SetRetryCount(0) // retries are handled explicitly in retry.go so the core controls backoff/jitter per spec, not resty's own policy

	c := &Client{
		http:        httpClient,
		creds:       creds,
		restLimiter: safety.NewRateLimiter("okx-rest", restConcurrency, restConcurrency),
		breaker: safety.NewCircuitBreaker("okx-rest", safety.CircuitBreakerConfig{
			FailureThreshold: uint32(cfg.CircuitFailureLimit),
			ResetTimeout:     time.Duration(cfg.CircuitResetSeconds) * time.Second,
		}),
	}
	c.ws = newWSManager(cfg.WSPublicURL, cfg.WSPrivateURL, c)
	return c
}

// sign implements OKX's request-signing scheme: base64(hmac_sha256(secret,
// timestamp+method+path+body)).
func (c *Client) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authedRequest returns a resty.Request with the OK-ACCESS-* headers set,
// never logged even at debug level.
func (c *Client) authedRequest(ctx context.Context, method, path, body string) *resty.Request {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return c.http.R().
		SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", c.creds.APIKey).
		SetHeader("OK-ACCESS-SIGN", c.sign(ts, method, path, body)).
		SetHeader("OK-ACCESS-TIMESTAMP", ts).
		SetHeader("OK-ACCESS-PASSPHRASE", c.creds.Passphrase).
		SetHeader("Content-Type", "application/json")
}

// hotContext bounds a call to the 2s hot-path timeout instead of the 5s
// default, per the spec's concurrency & resource model.
func hotContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, restTimeoutHot)
}

func (c *Client) RequestReconnect(reason string) {
	c.ws.requestReconnect(reason)
}
