// Package httpclient provides the outbound HTTP client the gateway
// uses to reach the forms and export services, plus the retry policy
// the proxies apply to upstream calls.
package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"
)

// maxBackoff caps the exponential delay between attempts so a slow
// upstream never stretches a gateway request by more than a few
// seconds of waiting.
const maxBackoff = 2 * time.Second

// New builds the shared client for service-to-service calls. The
// timeout bounds a whole exchange including body copy; individual
// proxies layer their own per-request context deadlines on top.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Retry runs fn up to attempts times with exponential backoff. It
// stops early when fn succeeds, when the error is not retriable, or
// when ctx expires. The last error is returned.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil || !IsRetriable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return err
}

// IsRetriable reports whether a transport error is worth another
// attempt: timeouts and refused or reset connections qualify, anything
// that reached the upstream does not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
