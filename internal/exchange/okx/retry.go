package okx

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/perpscalp/engine/internal/exchange"
)

// retryConfig sets the exponential backoff applied to HTTP 5xx responses
// (up to maxRetries retries). Transport-level failures, TLS errors
// included, are returned as code 0 and are not retried.
type retryConfig struct {
	maxRetries    int
	initialDelay  time.Duration
	maxDelay      time.Duration
	backoffFactor float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{maxRetries: 3, initialDelay: 250 * time.Millisecond, maxDelay: 5 * time.Second, backoffFactor: 2.0}
}

// doGET issues an unauthenticated GET through the rate limiter, circuit
// breaker, and retry loop, decoding the JSON body into out.
func (c *Client) doGET(ctx context.Context, path string, query map[string]string, out any) error {
	return c.call(ctx, func() error {
		req := c.http.R().SetContext(ctx).SetQueryParams(query)
		return executeGET(req, path, out)
	})
}

func (c *Client) doAuthedGET(ctx context.Context, path string, query map[string]string, out any) error {
	return c.call(ctx, func() error {
		req := c.authedRequest(ctx, "GET", path, "").SetQueryParams(query)
		return executeGET(req, path, out)
	})
}

func (c *Client) doAuthedPOST(ctx context.Context, path string, body any, out any) error {
	return c.call(ctx, func() error {
		raw, _ := json.Marshal(body)
		req := c.authedRequest(ctx, "POST", path, string(raw)).SetBody(body)
		return executePOST(req, path, out)
	})
}

func executeGET(req *resty.Request, path string, out any) error {
	resp, err := req.Get(path)
	if err != nil {
		return exchange.NewAPIError(0, "transport error: "+err.Error())
	}
	if resp.StatusCode() >= 500 {
		return exchange.NewAPIError(resp.StatusCode(), "http status "+resp.Status())
	}
	return decodeEnvelope(resp.Body(), out)
}

func executePOST(req *resty.Request, path string, out any) error {
	resp, err := req.Post(path)
	if err != nil {
		return exchange.NewAPIError(0, "transport error: "+err.Error())
	}
	if resp.StatusCode() >= 500 {
		return exchange.NewAPIError(resp.StatusCode(), "http status "+resp.Status())
	}
	return decodeEnvelope(resp.Body(), out)
}

func decodeEnvelope(body []byte, out any) error {
	var envelope struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Code != "" && envelope.Code != "0" {
		return exchange.NewAPIError(parseCode(envelope.Code), envelope.Msg)
	}
	if out != nil {
		if jsonErr := json.Unmarshal(body, out); jsonErr != nil {
			return exchange.NewAPIError(0, "decode error: "+jsonErr.Error())
		}
	}
	return nil
}

func parseCode(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// call runs fn under the rate limiter and circuit breaker, retrying on
// exchange.IsRetryable errors with exponential backoff plus jitter.
func (c *Client) call(ctx context.Context, fn func() error) error {
	cfg := defaultRetryConfig()
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.restLimiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.breaker.Call(fn)
		if lastErr == nil {
			return nil
		}
		if !exchange.IsRetryable(lastErr) || attempt == cfg.maxRetries {
			return lastErr
		}

		delay := backoffDelay(attempt, cfg)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(attempt int, cfg retryConfig) time.Duration {
	delay := time.Duration(float64(cfg.initialDelay) * math.Pow(cfg.backoffFactor, float64(attempt)))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	return delay + jitter
}
