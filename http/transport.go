package http

import (
	"net/http"
)

// Transport is an http.RoundTripper that applies per-host pacing and circuit
// breaking without retrying. Callers that own their retry loop (the YouTube
// SDK client) use it through Client.HTTPClient.
type Transport struct {
	Base           http.RoundTripper
	RateLimiter    *RateLimiter
	CircuitBreaker *CircuitBreaker
	UserAgent      string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	urlStr := req.URL.String()
	host := extractDomain(urlStr)
	ctx := req.Context()

	if err := t.CircuitBreaker.Allow(host); err != nil {
		return nil, err
	}
	if err := t.RateLimiter.WaitForBackoff(ctx, urlStr); err != nil {
		return nil, err
	}
	if err := t.RateLimiter.Wait(ctx, urlStr); err != nil {
		return nil, err
	}

	if t.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(ctx)
		req.Header.Set("User-Agent", t.UserAgent)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		t.CircuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header)
		t.RateLimiter.RecordRateLimitError(urlStr, retryAfter)
		t.CircuitBreaker.RecordFailure(host, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter})
	case resp.StatusCode >= 500:
		t.CircuitBreaker.RecordFailure(host, &HTTPError{StatusCode: resp.StatusCode, URL: urlStr})
	default:
		t.RateLimiter.RecordSuccess(urlStr)
		t.CircuitBreaker.RecordSuccess(host)
	}
	return resp, nil
}
