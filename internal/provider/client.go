package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// StatusError is a non-200 upstream response.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Source, e.StatusCode, e.Body)
}

// retryable reports whether a retry could plausibly succeed.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// jsonClient is the rate-limited, retrying GET shared by the providers.
type jsonClient struct {
	source  string
	http    *http.Client
	limiter *rate.Limiter
	retry   func() backoff.BackOff
}

func newJSONClient(source string, timeout time.Duration, limiter *rate.Limiter) *jsonClient {
	return &jsonClient{
		source:  source,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// getJSON decodes the body of a GET into out. Client errors other than 429
// are not retried.
func (c *jsonClient) getJSON(ctx context.Context, url string, out any) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Source: c.source, StatusCode: resp.StatusCode, Body: string(body)}
			if serr.retryable() {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", c.source, err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx))
}
