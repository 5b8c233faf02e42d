package adapters

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"composer-repos/internal/ports"
)

func newTestDownloader(opts ...HTTPOption) *HTTPDownloaderAdapter {
	opts = append([]HTTPOption{WithHTTPClient(&http.Client{Timeout: 5 * time.Second})}, opts...)
	return NewHTTPDownloaderAdapter(0, opts...)
}

func TestHTTPDownloaderRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		_, _ = io.WriteString(w, `{"packages":[]}`)
	}))
	t.Cleanup(server.Close)

	metrics := NewMetrics()
	downloader := newTestDownloader(WithHTTPRetries(2, time.Millisecond), WithMetrics(metrics))
	resp, err := downloader.Get(t.Context(), server.URL+"/packages.json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"packages":[]}`, string(resp.Body))
	assert.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", resp.LastModified())
	assert.Equal(t, int32(3), hits.Load())

	host := strings.TrimPrefix(server.URL, "http://")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues(host, "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues(host, "200")))
}

func TestHTTPDownloaderReturnsErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantHits int32
	}{
		{name: "not found is not retried", status: http.StatusNotFound, wantHits: 1},
		{name: "forbidden is not retried", status: http.StatusForbidden, wantHits: 1},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, wantHits: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			resp, err := newTestDownloader(WithHTTPRetries(1, time.Millisecond)).Get(t.Context(), server.URL, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestHTTPDownloaderHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("Authorization")+"|"+r.Header.Get("If-Modified-Since")+"|"+r.UserAgent())
	}))
	t.Cleanup(server.Close)

	downloader := newTestDownloader(
		WithHostAuthorization("127.0.0.1", "Bearer secret"),
		WithUserAgent("tests/1.0"),
	)
	resp, err := downloader.Get(t.Context(), server.URL, map[string]string{"If-Modified-Since": "yesterday"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret|yesterday|tests/1.0", string(resp.Body))
}

func TestHTTPDownloaderPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, r.Method+" "+r.Header.Get("Content-Type")+" "+string(body))
	}))
	t.Cleanup(server.Close)

	downloader := newTestDownloader(WithHTTPRetries(0, time.Millisecond))
	resp, err := downloader.Post(t.Context(), server.URL+"/api", map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, []byte("packages[]=foo/bar"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "POST application/x-www-form-urlencoded packages[]=foo/bar", string(resp.Body))

	_, err = downloader.Post(t.Context(), server.URL+"/slow", map[string]string{"Content-Type": "application/json"}, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, ports.IsTransport(err))
	assert.Zero(t, ports.StatusOf(err))
}

func TestHTTPDownloaderCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	downloader := newTestDownloader(WithHTTPRetries(0, time.Millisecond))
	for i := 0; i < breakerThreshold; i++ {
		resp, err := downloader.Get(t.Context(), server.URL, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.Status)
	}

	_, err := downloader.Get(t.Context(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBreakerOpen))
	assert.True(t, ports.IsTransport(err))
	assert.False(t, ports.IsSystemic(err))
	assert.Equal(t, int32(breakerThreshold), hits.Load())

	host := strings.TrimPrefix(server.URL, "http://")
	assert.Equal(t, map[string]string{host: "open"}, downloader.BreakerStates())
}

func TestHTTPDownloaderRetryBudget(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		want    int32
	}{
		{name: "no retries", retries: 0, want: 1},
		{name: "one retry", retries: 1, want: 2},
		{name: "three retries", retries: 3, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			}))
			t.Cleanup(server.Close)

			downloader := newTestDownloader(WithHTTPRetries(tt.retries, time.Millisecond))
			resp, err := downloader.Get(t.Context(), server.URL, nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadGateway, resp.Status)
			assert.Equal(t, tt.want, hits.Load())

			host := strings.TrimPrefix(server.URL, "http://")
			assert.Equal(t, map[string]string{host: "closed"}, downloader.BreakerStates())
		})
	}
}

func TestHTTPDownloaderNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestDownloader(WithHTTPRetries(1, time.Millisecond)).Get(t.Context(), url, nil)
	require.Error(t, err)
	assert.True(t, ports.IsTransport(err))
	assert.Zero(t, ports.StatusOf(err))
}

func TestNormalizeHTTPSettings(t *testing.T) {
	assert.Equal(t, defaultHTTPTimeout, normalizeHTTPTimeout(0))
	assert.Equal(t, time.Second, normalizeHTTPTimeout(time.Second))
	assert.Equal(t, defaultHTTPRetries, normalizeHTTPRetries(-1))
	assert.Equal(t, 0, normalizeHTTPRetries(0))
	assert.Equal(t, defaultHTTPRetryDelay, normalizeHTTPRetryDelay(0))
	assert.Equal(t, maxHTTPRetryDelay, normalizeHTTPRetryDelay(time.Minute))
}

func TestHTTPDownloaderSecureHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{}")
	}))
	t.Cleanup(server.Close)
	downloader := newTestDownloader(WithSecureHTTP(true))

	resp, err := downloader.Get(t.Context(), server.URL, nil)
	require.NoError(t, err, "loopback hosts are exempt")
	assert.Equal(t, http.StatusOK, resp.Status)

	_, err = downloader.Get(t.Context(), "http://repo.example.org/packages.json", nil)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))

	tests := map[string]bool{
		"http://repo.example.org/packages.json":  true,
		"https://repo.example.org/packages.json": false,
		"http://127.0.0.1:8080/packages.json":    false,
		"http://localhost/packages.json":         false,
		"http://[::1]/packages.json":             false,
	}
	for raw, want := range tests {
		assert.Equal(t, want, insecureURL(raw), raw)
	}
}
