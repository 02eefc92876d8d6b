// Package proxy forwards administrative REST requests to the cluster node
// services that own them, streaming responses back chunk for chunk.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sigmod/ns-server/cluster"
	"github.com/sigmod/ns-server/errors"
	"github.com/sigmod/ns-server/metric"
)

const (
	// DefaultTimeout bounds one relay attempt end to end, including the
	// streamed response body
	DefaultTimeout = 60 * time.Second

	// DefaultChunkSize is how much response body is read per window before
	// it is flushed to the caller
	DefaultChunkSize = 100_000

	// DefaultIdentityHeader carries the authenticated caller's session
	// token to the backend so it can make its own authorization decision
	DefaultIdentityHeader = "ns-server-auth-token"
)

// hop-by-hop framing headers recomputed by the relay, never forwarded
var framingHeaders = []string{"Content-Length", "Transfer-Encoding"}

// TokenExtractor yields the authenticated caller's session token for a
// request, or empty when there is none.
type TokenExtractor func(r *http.Request) string

// Relay performs the HTTP forward for proxied requests. One attempt per
// request; retries are a client concern.
type Relay struct {
	locator        *cluster.Locator
	client         *http.Client
	identityHeader string
	extractToken   TokenExtractor
	logger         *slog.Logger
	metrics        *metric.Metrics
	chunkSize      int
}

// Option configures a Relay
type Option func(*Relay)

// WithTimeout overrides the overall relay timeout
func WithTimeout(d time.Duration) Option {
	return func(rl *Relay) { rl.client.Timeout = d }
}

// WithTransport overrides the HTTP transport used for backend calls
func WithTransport(t http.RoundTripper) Option {
	return func(rl *Relay) { rl.client.Transport = t }
}

// WithIdentityHeader overrides the internal identity header name
func WithIdentityHeader(name string) Option {
	return func(rl *Relay) {
		if name != "" {
			rl.identityHeader = name
		}
	}
}

// WithTokenExtractor sets how the caller's session token is obtained
func WithTokenExtractor(fn TokenExtractor) Option {
	return func(rl *Relay) { rl.extractToken = fn }
}

// WithLogger sets the relay logger
func WithLogger(logger *slog.Logger) Option {
	return func(rl *Relay) {
		if logger != nil {
			rl.logger = logger
		}
	}
}

// WithMetrics wires relay outcomes into the gateway's core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(rl *Relay) { rl.metrics = m }
}

// WithChunkSize overrides the streaming window size
func WithChunkSize(n int) Option {
	return func(rl *Relay) {
		if n > 0 {
			rl.chunkSize = n
		}
	}
}

// NewRelay builds a relay over the given locator.
func NewRelay(locator *cluster.Locator, opts ...Option) *Relay {
	rl := &Relay{
		locator:        locator,
		client:         &http.Client{Timeout: DefaultTimeout},
		identityHeader: DefaultIdentityHeader,
		logger:         slog.Default(),
		chunkSize:      DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Forward relays the inbound request to the named service at downstreamPath
// and streams the response back. The caller's query string is preserved.
// Service not running locally answers 404 without any outbound connection;
// transport failures answer a generic 500 with the detail logged, never
// exposed. A backend response, whatever its status, is passed through.
func (rl *Relay) Forward(w http.ResponseWriter, r *http.Request, service, downstreamPath string) {
	endpoint, err := rl.locator.Resolve(service)
	if err != nil {
		if errors.IsNotFound(err) {
			rl.count(service, "not_running")
			writeJSONError(w, http.StatusNotFound,
				fmt.Sprintf("service %s is not running on this node", service))
			return
		}
		// Configuration-consistency bug: fail loudly, say nothing specific
		rl.logger.Error("endpoint resolution failed", "service", service, "error", err)
		rl.count(service, "resolve_error")
		writeJSONError(w, http.StatusInternalServerError, "unexpected server error")
		return
	}

	// Administrative payloads, not bulk data: buffering the request body
	// in memory is acceptable
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rl.count(service, "bad_request")
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outURL := fmt.Sprintf("http://%s%s", endpoint.Addr(), downstreamPath)
	if r.URL.RawQuery != "" {
		outURL += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, outURL, bytes.NewReader(body))
	if err != nil {
		rl.logger.Error("building backend request failed",
			"service", service, "url", outURL, "error", err)
		rl.count(service, "transport_error")
		writeJSONError(w, http.StatusInternalServerError, "unexpected server error")
		return
	}

	copyHeaders(outReq.Header, r.Header)
	if rl.extractToken != nil {
		if token := rl.extractToken(r); token != "" {
			outReq.Header.Set(rl.identityHeader, token)
		}
	}

	resp, err := rl.client.Do(outReq)
	if err != nil {
		rl.logger.Error("backend request failed",
			"service", service,
			"endpoint", endpoint.Addr(),
			"path", downstreamPath,
			"error", err)
		rl.count(service, "transport_error")
		writeJSONError(w, http.StatusInternalServerError, "unexpected server error")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	relayed, err := rl.streamBody(w, resp.Body)
	if err != nil {
		// Status already sent; nothing to do for the caller beyond logging
		rl.logger.Warn("response relay interrupted",
			"service", service, "bytes_relayed", relayed, "error", err)
		rl.count(service, "interrupted")
		return
	}

	if rl.metrics != nil {
		rl.metrics.ProxyBytesRelayed.Add(float64(relayed))
	}
	rl.count(service, "ok")
}

// streamBody relays the backend body in fixed-size windows, flushing after
// each so the caller starts receiving before the backend finishes.
func (rl *Relay) streamBody(w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, rl.chunkSize)
	var total int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func (rl *Relay) count(service, outcome string) {
	if rl.metrics != nil {
		rl.metrics.ProxyForwards.WithLabelValues(service, outcome).Inc()
	}
}

// copyHeaders copies all headers except the transport-framing ones, which
// each hop recomputes for itself.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if isFramingHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isFramingHeader(name string) bool {
	for _, h := range framingHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	_, _ = w.Write(data)
}
