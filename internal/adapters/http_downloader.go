package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	circuit "github.com/rubyist/circuitbreaker"

	"composer-repos/internal/ports"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultHTTPRetries    = 2
	defaultHTTPRetryDelay = 200 * time.Millisecond
	maxHTTPRetryDelay     = 2 * time.Second
	maxMetadataBodySize   = 256 << 20
	breakerThreshold      = 5
	dnsRefreshInterval    = 5 * time.Minute
)

var errBreakerOpen = errors.New("circuit breaker open")

// HTTPDownloaderAdapter performs metadata reads over HTTP. Network failures,
// 429 and 5xx responses are retried with exponential backoff. Each host has
// its own circuit breaker; while it is open requests fail without touching
// the network so repositories fall back to their caches.
type HTTPDownloaderAdapter struct {
	client     *http.Client
	userAgent  string
	retries    int
	retryDelay time.Duration
	auth       map[string]string
	metrics    *Metrics
	secure     bool

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// HTTPOption configures an HTTPDownloaderAdapter.
type HTTPOption func(*HTTPDownloaderAdapter)

// WithHTTPClient replaces the DNS caching client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.client = client
	}
}

func WithHTTPRetries(retries int, delay time.Duration) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.retries = normalizeHTTPRetries(retries)
		a.retryDelay = normalizeHTTPRetryDelay(delay)
	}
}

func WithUserAgent(userAgent string) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.userAgent = userAgent
	}
}

// WithHostAuthorization sends value as the Authorization header to host.
func WithHostAuthorization(host string, value string) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.auth[strings.ToLower(host)] = value
	}
}

// WithSecureHTTP rejects plain http URLs for every host except loopback.
func WithSecureHTTP(secure bool) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.secure = secure
	}
}

func WithMetrics(metrics *Metrics) HTTPOption {
	return func(a *HTTPDownloaderAdapter) {
		a.metrics = metrics
	}
}

func NewHTTPDownloaderAdapter(timeout time.Duration, opts ...HTTPOption) *HTTPDownloaderAdapter {
	a := &HTTPDownloaderAdapter{
		client:     newCachingClient(normalizeHTTPTimeout(timeout)),
		userAgent:  "composer-repos/1.0",
		retries:    defaultHTTPRetries,
		retryDelay: defaultHTTPRetryDelay,
		auth:       map[string]string{},
		breakers:   map[string]*circuit.Breaker{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newCachingClient(timeout time.Duration) *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(dnsRefreshInterval)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("failed to dial any resolved address for %s", host)
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

func (a *HTTPDownloaderAdapter) Get(ctx context.Context, target string, headers map[string]string) (ports.HTTPResponse, error) {
	return a.do(ctx, http.MethodGet, target, headers, nil)
}

// Post sends body with its own deadline; the advisory API uses a short one.
func (a *HTTPDownloaderAdapter) Post(ctx context.Context, target string, headers map[string]string, body []byte, timeout time.Duration) (ports.HTTPResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.do(ctx, http.MethodPost, target, headers, body)
}

func (a *HTTPDownloaderAdapter) do(ctx context.Context, method string, target string, headers map[string]string, body []byte) (ports.HTTPResponse, error) {
	if a.secure && insecureURL(target) {
		return ports.HTTPResponse{}, errbuilder.New().
			WithCode(errbuilder.CodePermissionDenied).
			WithMsg(fmt.Sprintf("refusing plain http request to %s, disable secure_http to allow it", target))
	}
	host := hostOf(target)
	breaker := a.breaker(host)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.retryDelay
	policy.MaxInterval = maxHTTPRetryDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	for attempt := 1; ; attempt++ {
		if !breaker.Ready() {
			a.metrics.observeRequest(host, "breaker_open")
			return ports.HTTPResponse{}, &ports.TransportError{URL: target, Err: fmt.Errorf("%w for %s", errBreakerOpen, host)}
		}
		resp, retry, err := a.doOnce(ctx, method, target, headers, body)
		if err != nil || resp.Status >= http.StatusInternalServerError {
			breaker.Fail()
		} else {
			breaker.Success()
		}
		if !retry || ctx.Err() != nil || attempt > a.retries {
			return resp, err
		}
		wait := policy.NextBackOff()
		log.Ctx(ctx).Debug().Str("url", target).Int("attempt", attempt).Dur("wait", wait).Msg("retrying metadata request")
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// doOnce reports whether the outcome is worth retrying.
func (a *HTTPDownloaderAdapter) doOnce(ctx context.Context, method string, target string, headers map[string]string, body []byte) (ports.HTTPResponse, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return ports.HTTPResponse{}, false, &ports.TransportError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")
	if value, ok := a.auth[strings.ToLower(req.URL.Hostname())]; ok {
		req.Header.Set("Authorization", value)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	host := req.URL.Host
	resp, err := a.client.Do(req)
	if err != nil {
		a.metrics.observeRequest(host, "error")
		return ports.HTTPResponse{}, true, &ports.TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBodySize))
	if err != nil {
		a.metrics.observeRequest(host, "error")
		return ports.HTTPResponse{}, true, &ports.TransportError{URL: target, Status: resp.StatusCode, Err: err}
	}
	a.metrics.observeRequest(host, fmt.Sprintf("%d", resp.StatusCode))
	out := ports.HTTPResponse{Status: resp.StatusCode, Body: data, Header: resp.Header}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
	return out, retry, nil
}

func (a *HTTPDownloaderAdapter) breaker(host string) *circuit.Breaker {
	a.mu.RLock()
	breaker, ok := a.breakers[host]
	a.mu.RUnlock()
	if ok {
		return breaker
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if breaker, ok := a.breakers[host]; ok {
		return breaker
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 30 * time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.Multiplier = 2.0
	policy.Reset()
	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    policy,
		ShouldTrip: circuit.ConsecutiveTripFunc(breakerThreshold),
	})
	a.breakers[host] = breaker
	return breaker
}

// BreakerStates reports "open" or "closed" per host.
func (a *HTTPDownloaderAdapter) BreakerStates() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	states := make(map[string]string, len(a.breakers))
	for host, breaker := range a.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}

func insecureURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(parsed.Scheme, "http") {
		return false
	}
	host := parsed.Hostname()
	if strings.EqualFold(host, "localhost") {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}

func normalizeHTTPTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultHTTPTimeout
	}
	return timeout
}

func normalizeHTTPRetries(retries int) int {
	if retries < 0 {
		return defaultHTTPRetries
	}
	return retries
}

func normalizeHTTPRetryDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return defaultHTTPRetryDelay
	}
	if delay > maxHTTPRetryDelay {
		return maxHTTPRetryDelay
	}
	return delay
}
