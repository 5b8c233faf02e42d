package core

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"composer-repos/internal/ports"
)

const (
	fetchAttempts       = 3
	integrityRetryDelay = 100 * time.Millisecond
)

var httpScheme = regexp.MustCompile(`(?i)^https?://`)

// get performs a GET with the repository headers. Responses with an error
// status become *ports.TransportError.
func (r *ComposerRepository) get(ctx context.Context, target string, extra map[string]string) (ports.HTTPResponse, error) {
	headers := make(map[string]string, len(r.headers)+len(extra))
	for name, value := range r.headers {
		headers[name] = value
	}
	for name, value := range extra {
		headers[name] = value
	}
	resp, err := r.http.Get(ctx, target, headers)
	return checkResponse(target, resp, err)
}

func checkResponse(target string, resp ports.HTTPResponse, err error) (ports.HTTPResponse, error) {
	if err != nil {
		if ports.IsTransport(err) {
			return resp, err
		}
		return resp, &ports.TransportError{URL: target, Err: err}
	}
	if resp.Status >= http.StatusBadRequest {
		return resp, &ports.TransportError{URL: target, Status: resp.Status}
	}
	return resp, nil
}

// getDocument fetches an uncached JSON document such as a search or list
// endpoint response.
func (r *ComposerRepository) getDocument(ctx context.Context, target string) (map[string]any, error) {
	resp, err := r.get(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return decodeDocument(target, resp.Body)
}

func decodeDocument(target string, body []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, invalidArgument(fmt.Sprintf("%s does not contain valid JSON", target), err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// unmaskable reports failures that degraded mode must never hide.
func unmaskable(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		ports.StatusOf(err) == http.StatusNotFound ||
		ports.IsSystemic(err) ||
		ports.IsIntegrity(err)
}

// fetchFile downloads a metadata document, verifying it against sha when
// given. A mismatch is retried, switching a downgraded repository back to
// https, and becomes *ports.IntegrityError once attempts run out. Other
// failures fall back to the cached copy when there is one.
func (r *ComposerRepository) fetchFile(ctx context.Context, target string, cacheKey string, sha string, storeLastModified bool) (map[string]any, error) {
	if target == "" {
		return nil, invalidArgument("empty metadata url in "+r.RepoName(), nil)
	}
	target = escapeDollar(target)
	for attempt := 1; ; attempt++ {
		resp, err := r.get(ctx, target, nil)
		if err == nil && sha != "" {
			if actual := sha256Hex(resp.Body); actual != sha {
				target = r.undoDowngrade(target)
				if attempt < fetchAttempts {
					log.Ctx(ctx).Debug().Str("url", target).Int("attempt", attempt).Msg("sha256 mismatch, retrying")
					if err := sleepContext(ctx, integrityRetryDelay); err != nil {
						return nil, err
					}
					continue
				}
				return nil, &ports.IntegrityError{URL: target, Expected: sha, Actual: actual}
			}
		}
		var data map[string]any
		if err == nil {
			data, err = decodeDocument(target, resp.Body)
		}
		if err != nil {
			if unmaskable(ctx, err) {
				return nil, err
			}
			return r.fallbackToCache(ctx, cacheKey, err)
		}
		if cacheKey != "" {
			body := resp.Body
			if storeLastModified {
				body = withLastModified(data, resp, body)
			}
			r.writeCache(ctx, cacheKey, body)
		}
		return data, nil
	}
}

// fetchFileIfLastModified revalidates a cached document. modified is false
// when the server answered 304 or when the request failed and the cached
// copy is kept in degraded mode.
func (r *ComposerRepository) fetchFileIfLastModified(ctx context.Context, target string, cacheKey string, lastModified string) (map[string]any, bool, error) {
	resp, err := r.get(ctx, target, map[string]string{"If-Modified-Since": lastModified})
	if err == nil && resp.Status == http.StatusNotModified {
		return nil, false, nil
	}
	var data map[string]any
	if err == nil {
		data, err = decodeDocument(target, resp.Body)
	}
	if err != nil {
		if unmaskable(ctx, err) {
			return nil, false, err
		}
		r.enterDegraded(ctx, err)
		return nil, false, nil
	}
	r.writeCache(ctx, cacheKey, withLastModified(data, resp, resp.Body))
	return data, true, nil
}

// asyncFetchFile is the fetch used by concurrent lazy loads. It consults
// the per-run memos: a url already answered 404 yields an empty document
// and a url already revalidated is reported not modified without a
// request.
func (r *ComposerRepository) asyncFetchFile(ctx context.Context, target string, cacheKey string, lastModified string) (map[string]any, bool, error) {
	if target == "" {
		return nil, false, invalidArgument("empty metadata url in "+r.RepoName(), nil)
	}
	r.memoMu.Lock()
	notFound := r.packagesNotFound[target]
	fresh := r.freshMetadataURLs[target]
	r.memoMu.Unlock()
	if notFound {
		return emptyPackagesDocument(), false, nil
	}
	if fresh && lastModified != "" {
		return nil, true, nil
	}

	var headers map[string]string
	if lastModified != "" {
		headers = map[string]string{"If-Modified-Since": lastModified}
	}
	resp, err := r.get(ctx, target, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, err
		}
		if ports.IsNotFound(err) {
			r.markNotFound(target)
			return emptyPackagesDocument(), false, nil
		}
		if ports.IsSystemic(err) {
			return nil, false, err
		}
		r.enterDegraded(ctx, err)
		if lastModified != "" {
			r.markFresh(target)
			return nil, true, nil
		}
		return nil, false, err
	}
	if resp.Status == http.StatusNotModified {
		r.markFresh(target)
		return nil, true, nil
	}
	data, err := decodeDocument(target, resp.Body)
	if err != nil {
		return nil, false, err
	}
	r.writeCache(ctx, cacheKey, withLastModified(data, resp, resp.Body))
	r.markFresh(target)
	return data, false, nil
}

// startCachedAsyncDownload loads the metadata-url file of fileName, which
// may carry a "~dev" suffix. The document is nil when it neither describes
// packageName nor lists advisories.
func (r *ComposerRepository) startCachedAsyncDownload(ctx context.Context, fileName string, packageName string) (map[string]any, string, error) {
	if r.lazyProvidersURL == "" {
		return nil, "", internalError("lazy download requested on "+r.RepoName()+" which has no metadata-url", nil)
	}
	target := strings.ReplaceAll(r.lazyProvidersURL, "%package%", fileName)
	cacheKey := "provider-" + strings.ReplaceAll(fileName, "/", "~") + ".json"

	var lastModified string
	cached, hasCached := r.readCache(ctx, cacheKey)
	if hasCached {
		if value := stringValue(cached["last-modified"]); value != "" {
			if r.isFresh(target) {
				return describedDocument(cached, packageName), "cached file (" + cacheKey + ")", nil
			}
			lastModified = value
		}
	}

	data, notModified, err := r.asyncFetchFile(ctx, target, cacheKey, lastModified)
	if err != nil {
		return nil, "", err
	}
	source := "downloaded file (" + sanitizeURL(target) + ")"
	if notModified {
		data = cached
		source = "cached file (" + cacheKey + " originating from " + sanitizeURL(target) + ")"
	}
	return describedDocument(data, packageName), source, nil
}

func describedDocument(data map[string]any, packageName string) map[string]any {
	if data == nil {
		return nil
	}
	if _, ok := mapValue(data["packages"])[packageName]; ok {
		return data
	}
	if _, ok := data["security-advisories"]; ok {
		return data
	}
	return nil
}

func emptyPackagesDocument() map[string]any {
	return map[string]any{"packages": map[string]any{}}
}

func (r *ComposerRepository) markNotFound(target string) {
	r.memoMu.Lock()
	r.packagesNotFound[target] = true
	r.memoMu.Unlock()
}

func (r *ComposerRepository) markFresh(target string) {
	r.memoMu.Lock()
	r.freshMetadataURLs[target] = true
	r.memoMu.Unlock()
}

func (r *ComposerRepository) isFresh(target string) bool {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	return r.freshMetadataURLs[target]
}

func (r *ComposerRepository) fallbackToCache(ctx context.Context, cacheKey string, cause error) (map[string]any, error) {
	if cacheKey == "" {
		return nil, cause
	}
	cached, ok := r.readCache(ctx, cacheKey)
	if !ok {
		return nil, cause
	}
	r.enterDegraded(ctx, cause)
	return cached, nil
}

// enterDegraded switches the repository to stale-cache mode, warning on
// the first switch only.
func (r *ComposerRepository) enterDegraded(ctx context.Context, cause error) {
	r.memoMu.Lock()
	first := !r.degraded
	r.degraded = true
	repoURL := r.url
	r.memoMu.Unlock()
	if !first {
		return
	}
	log.Ctx(ctx).Warn().
		Err(cause).
		Str("url", sanitizeURL(repoURL)).
		Msg("repository could not be fully loaded, package information was loaded from the local cache and may be out of date")
	if r.onDegraded != nil {
		r.onDegraded(r.RepoName())
	}
}

// undoDowngrade moves a downgraded repository and target back to https.
func (r *ComposerRepository) undoDowngrade(target string) string {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	if !r.allowSSLDowngrade {
		return target
	}
	r.url = strings.ReplaceAll(r.url, "http://", "https://")
	r.baseURL = strings.ReplaceAll(r.baseURL, "http://", "https://")
	return strings.ReplaceAll(target, "http://", "https://")
}

func (r *ComposerRepository) readCache(ctx context.Context, key string) (map[string]any, bool) {
	body, ok, err := r.cache.Read(ctx, key)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache read failed")
		return nil, false
	}
	if !ok || len(body) == 0 {
		return nil, false
	}
	data, err := decodeDocument(key, body)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("ignoring corrupt cache entry")
		return nil, false
	}
	return data, true
}

func (r *ComposerRepository) writeCache(ctx context.Context, key string, body []byte) {
	if key == "" || r.cache.IsReadOnly() {
		return
	}
	if err := r.cache.Write(ctx, key, body); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// withLastModified stores the Last-Modified header inside the document so
// a later run can revalidate it.
func withLastModified(data map[string]any, resp ports.HTTPResponse, body []byte) []byte {
	lastModified := resp.LastModified()
	if lastModified == "" {
		return body
	}
	data["last-modified"] = lastModified
	encoded, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return encoded
}

// escapeDollar url-encodes the first "$" of an http url; some proxies
// reject it.
func escapeDollar(target string) string {
	pos := strings.Index(target, "$")
	if pos <= 0 || !httpScheme.MatchString(target) {
		return target
	}
	return target[:pos] + "%24" + target[pos+1:]
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func sha1Hex(body []byte) string {
	sum := sha1.Sum(body)
	return hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// disabledCache is used when a repository is built without a cache.
type disabledCache struct{}

func (disabledCache) Read(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (disabledCache) Write(context.Context, string, []byte) error        { return nil }
func (disabledCache) Age(context.Context, string) (time.Duration, bool)  { return 0, false }
func (disabledCache) SHA256(context.Context, string) (string, bool)      { return "", false }
func (disabledCache) Remove(context.Context, string) error               { return nil }
func (disabledCache) Clear(context.Context) error                        { return nil }
func (disabledCache) IsEnabled() bool                                    { return false }
func (disabledCache) IsReadOnly() bool                                   { return true }

var _ ports.CachePort = disabledCache{}
