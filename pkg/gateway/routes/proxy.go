// Package routes exposes the gateway's public API surface: proxied
// forms and export endpoints, login, and operational overviews.
package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/gateway/httpclient"
	"github.com/google/uuid"
)

// proxy forwards a request to one upstream service, preserving headers,
// query strings, and the correlation ID.
type proxy struct {
	client  *http.Client
	baseURL string
	name    string
	timeout time.Duration
}

func newProxy(client *http.Client, baseURL, name string, timeout time.Duration) *proxy {
	if client == nil || baseURL == "" {
		panic(fmt.Sprintf("%s proxy requires client and base URL", name))
	}
	return &proxy{client: client, baseURL: baseURL, name: name, timeout: timeout}
}

func (p *proxy) forwardWithQuery(w http.ResponseWriter, r *http.Request, method, target string) {
	if len(r.URL.RawQuery) > 0 {
		target = fmt.Sprintf("%s?%s", target, r.URL.RawQuery)
	}
	p.forward(w, r, method, target, nil, false)
}

func (p *proxy) forwardWithBody(w http.ResponseWriter, r *http.Request, method, target string) {
	var body []byte
	if r.Body != nil {
		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, r.Body); err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		body = buf.Bytes()
	}
	p.forward(w, r, method, target, body, true)
}

// forward relays the request upstream. The body is held as bytes so a
// retried attempt can replay it; retries only fire on transport errors
// that never reached the service, so replaying a POST is safe.
func (p *proxy) forward(w http.ResponseWriter, r *http.Request, method, target string, body []byte, propagateBody bool) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	var corrID string
	var resp *http.Response
	err := httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, buildErr := http.NewRequestWithContext(ctx, method, target, reader)
		if buildErr != nil {
			return buildErr
		}
		copyHeaders(r, req, propagateBody)
		corrID = ensureCorrelationID(req)

		var doErr error
		resp, doErr = p.client.Do(req)
		return doErr
	})
	if err != nil {
		logger.Log.WithError(err).Errorf("%s proxy failed", p.name)
		http.Error(w, fmt.Sprintf("%s service unavailable", p.name), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, v := range resp.Header {
		for _, value := range v {
			w.Header().Add(k, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Log.WithError(err).Errorf("failed to copy %s response", p.name)
	}

	logger.Log.WithFields(map[string]interface{}{
		"url":        target,
		"status":     resp.StatusCode,
		"request_id": corrID,
	}).Infof("Forwarded request to %s service", p.name)
}

func copyHeaders(src *http.Request, dst *http.Request, hasBody bool) {
	dst.Header = make(http.Header)
	for k, v := range src.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		dst.Header[k] = append([]string(nil), v...)
	}
	if hasBody {
		if ctype := src.Header.Get("Content-Type"); ctype != "" {
			dst.Header.Set("Content-Type", ctype)
		} else {
			dst.Header.Set("Content-Type", "application/json")
		}
	}
}

func ensureCorrelationID(req *http.Request) string {
	corrID := req.Header.Get("X-Request-ID")
	if corrID == "" {
		corrID = uuid.New().String()
		req.Header.Set("X-Request-ID", corrID)
	}
	return corrID
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}
