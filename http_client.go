package main

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const externalHTTPTimeout = 30 * time.Second

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	maxRetryDelay      = 60 * time.Second
)

// retryClient wraps an http.Client with bounded exponential backoff on rate
// limits and transient upstream failures. Only requests the caller marks
// idempotent are retried; everything else gets a single attempt.
type retryClient struct {
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(time.Duration) // swapped out in tests
}

func newRetryClient(timeout time.Duration, maxAttempts int, baseDelay time.Duration) *retryClient {
	if timeout <= 0 {
		timeout = externalHTTPTimeout
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &retryClient{
		http:        &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       time.Sleep,
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes the request, retrying 429/502/503/504 responses and transport
// errors when idempotent is true. The returned response always has a 2xx
// status; any other outcome is an error.
func (c *retryClient) Do(req *http.Request, idempotent bool) (*http.Response, error) {
	var lastStatus int
	var lastBody string

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		attemptReq := req
		if attempt > 0 {
			attemptReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewinding request body: %w", err)
				}
				attemptReq.Body = body
			}
		}

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			if !idempotent {
				return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
			}
			lastStatus = 0
			lastBody = err.Error()
			c.backoff(req, attempt, nil)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		lastStatus = resp.StatusCode
		lastBody = string(body)

		if !retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, lastBody)
		}
		if !idempotent {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: non-idempotent request not retried", ErrRateLimited)
			}
			return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, lastBody)
		}
		c.backoff(req, attempt, resp)
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %d attempts exhausted for %s", ErrRateLimited, c.maxAttempts, req.URL)
	}
	return nil, fmt.Errorf("%w: status=%d after %d attempts: %s", ErrUpstream, lastStatus, c.maxAttempts, lastBody)
}

// backoff sleeps before the next attempt, honoring Retry-After when the
// server sent one, otherwise base * 2^attempt plus up to 25% jitter.
func (c *retryClient) backoff(req *http.Request, attempt int, resp *http.Response) {
	delay := c.baseDelay << uint(attempt)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
			}
		}
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	log.Printf("http retry method=%s url=%s status=%d attempt=%d delay=%s", req.Method, req.URL, status, attempt+1, delay)
	c.sleep(delay)
}
