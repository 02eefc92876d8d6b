package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmod/ns-server/cluster"
)

type fakeTopology map[string]bool

func (f fakeTopology) IsServiceLocal(name string) bool { return f[name] }

type fakeConfig map[string]int

func (f fakeConfig) GetInt(key string) (int, bool) {
	v, ok := f[key]
	return v, ok
}

// locatorFor builds a locator that resolves service to the test server's port
func locatorFor(t *testing.T, service, serverURL string) *cluster.Locator {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return cluster.NewLocator(
		fakeTopology{service: true},
		fakeConfig{"rest.query.port": port},
		map[string]string{"n1ql": "rest.query.port"},
		u.Hostname())
}

func TestForwardStreamsBackendResponse(t *testing.T) {
	var seen struct {
		method, path, query string
		body                []byte
		headers             http.Header
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.query = r.URL.RawQuery
		seen.body, _ = io.ReadAll(r.Body)
		seen.headers = r.Header.Clone()
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	relay := NewRelay(locatorFor(t, "n1ql", backend.URL),
		WithTokenExtractor(func(*http.Request) string { return "session-token-1" }))

	inbound := httptest.NewRequest(http.MethodGet, "/_p/query/admin/stats?verbose=1",
		strings.NewReader("payload"))
	inbound.Header.Set("X-Custom", "kept")
	inbound.Header.Set("Transfer-Encoding", "chunked")

	rec := httptest.NewRecorder()
	relay.Forward(rec, inbound, "n1ql", "/admin/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))

	assert.Equal(t, http.MethodGet, seen.method)
	assert.Equal(t, "/admin/stats", seen.path)
	assert.Equal(t, "verbose=1", seen.query)
	assert.Equal(t, "payload", string(seen.body))
	assert.Equal(t, "kept", seen.headers.Get("X-Custom"))
	assert.Equal(t, "session-token-1", seen.headers.Get(DefaultIdentityHeader))
	assert.Empty(t, seen.headers.Values("Transfer-Encoding"),
		"framing headers must not be forwarded verbatim")
}

func TestForwardStripsFramingHeadersFromResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Fixed-length response so the backend sets Content-Length
		_, _ = w.Write([]byte("abcdef"))
	}))
	defer backend.Close()

	relay := NewRelay(locatorFor(t, "n1ql", backend.URL))

	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "n1ql", "/x")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abcdef", rec.Body.String())
	assert.Empty(t, rec.Header().Values("Content-Length"))
	assert.Empty(t, rec.Header().Values("Transfer-Encoding"))
}

func TestForwardServiceNotRunningNoDial(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	u, _ := url.Parse(backend.URL)
	port, _ := strconv.Atoi(u.Port())
	locator := cluster.NewLocator(
		fakeTopology{}, // nothing scheduled locally
		fakeConfig{"rest.query.port": port},
		map[string]string{"n1ql": "rest.query.port"},
		u.Hostname())

	relay := NewRelay(locator)
	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "n1ql", "/x")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "n1ql")
	assert.Equal(t, int32(0), hits.Load(), "no outbound connection may be attempted")
}

func TestForwardBackendTransportError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	locator := locatorFor(t, "n1ql", backend.URL)
	backend.Close() // port now refuses connections

	relay := NewRelay(locator)
	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodGet, "/x", nil), "n1ql", "/x")

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unexpected server error", body["error"],
		"transport detail must never leak to the caller")
}

func TestForwardBackendErrorStatusPassthrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Reason", "teapot")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer backend.Close()

	relay := NewRelay(locatorFor(t, "n1ql", backend.URL))
	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodPost, "/x", nil), "n1ql", "/x")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "teapot", rec.Header().Get("X-Reason"))
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestForwardLargeBodyRelayedIntact(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 20_000) // ~320 KB, several windows
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer backend.Close()

	relay := NewRelay(locatorFor(t, "n1ql", backend.URL), WithChunkSize(100_000))
	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodGet, "/big", nil), "n1ql", "/big")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Equal(payload, rec.Body.Bytes()))
}

func TestForwardEmptyBodyResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()

	relay := NewRelay(locatorFor(t, "n1ql", backend.URL))
	rec := httptest.NewRecorder()
	relay.Forward(rec, httptest.NewRequest(http.MethodDelete, "/x", nil), "n1ql", "/x")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}
