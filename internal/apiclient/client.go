// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apiclient is the JSON-over-HTTP layer shared by the mailbox,
// activity log and directory clients. It owns rate limiting and retries so
// the correlation core never deals with transport failures.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultRPS is a conservative request rate that stays well inside
	// both Gmail and Graph per-user quotas.
	DefaultRPS = 5
	// DefaultMaxRetries bounds retries of throttled or failed requests.
	DefaultMaxRetries = 5

	maxErrorBody = 2048
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.URL, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 or 410 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusGone)
}

// throttledError is returned for 429 and 503 responses. The retry loop
// honours RetryAfter before the next attempt.
type throttledError struct {
	*StatusError
	RetryAfter time.Duration
}

func (e *throttledError) Unwrap() error { return e.StatusError }

// Options tunes a Client.
type Options struct {
	RPS        float64
	Burst      int
	MaxRetries uint64
	// InitialBackoff is the first retry delay; zero uses the library default.
	InitialBackoff time.Duration
}

// Client issues rate-limited, retried GET requests and decodes JSON bodies.
// The wrapped http.Client must already handle authentication.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	initial    time.Duration
}

// New creates a Client.
func New(httpClient *http.Client, opts Options) *Client {
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RPS) * 2
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		maxRetries: opts.MaxRetries,
		initial:    opts.InitialBackoff,
	}
}

// GetJSON fetches url and decodes the body into out. It returns the
// response headers for callers that page through a header link.
// 4xx responses other than 429 are not retried.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) (http.Header, error) {
	var respHeader http.Header

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if err := checkStatus(url, resp); err != nil {
			var te *throttledError
			if errors.As(err, &te) {
				if waitErr := sleep(ctx, te.RetryAfter); waitErr != nil {
					return backoff.Permanent(waitErr)
				}
				return err
			}
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		respHeader = resp.Header
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if c.initial > 0 {
		b.InitialInterval = c.initial
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	notify := func(err error, next time.Duration) {
		slog.Warn("request failed, retrying", "url", url, "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return respHeader, nil
}

func checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{URL: url, Status: resp.StatusCode, Body: string(body)}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return &throttledError{StatusError: se, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	return se
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
