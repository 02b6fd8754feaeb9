// Package fetch implements the cache-first, byte-bounded HTTP fetcher:
// bounded retrieval through a disk cache, offline (cache-only) replay, and
// an opt-in truncation retry.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/webpipe/internal/cache"
)

// RobotsChecker is satisfied by *robots.Manager; kept as an interface here
// to avoid an import cycle (robots depends on cache, not on fetch).
type RobotsChecker interface {
	IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error)
}

// Source identifies where a Response's bytes came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// sensitiveHeaders are dropped at the fetch boundary unless a request opts
// into AllowUnsafeHeaders (WEBPIPE_ALLOW_UNSAFE_HEADERS).
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"proxy-authorization": true,
}

// CachePolicy controls whether a Fetch consults and/or writes the disk cache.
type CachePolicy struct {
	Read  bool
	Write bool
	TTLS  int // seconds; 0 means "no expiry"
}

// Request mirrors the FetchRequest shape: {url, timeout_ms, max_bytes,
// headers, cache_policy}, plus the knobs that select offline mode and the
// truncation-retry behavior.
type Request struct {
	URL       string
	TimeoutMs int
	MaxBytes  int64
	Headers   map[string]string
	Cache     CachePolicy

	NoNetwork               bool // cache-only; a miss returns not_supported
	RetryOnTruncation       bool
	TruncationRetryMaxBytes int64
	AllowUnsafeHeaders      bool
}

// Response mirrors the FetchResponse shape: {url, final_url, status,
// content_type, headers, bytes, truncated, source, timings_ms}.
type Response struct {
	URL         string
	FinalURL    string
	Status      int
	ContentType string
	Headers     map[string]string
	Bytes       []byte
	Truncated   bool
	Source      Source
	TimingsMs   map[string]int64
}

// Attempts bundles the primary fetch and, when RetryOnTruncation fires, the
// retry, so callers can expose both as attempts.local / attempts.local_retry.
type Attempts struct {
	Local         *Response
	LocalRetry    *Response
	LocalRetryErr error
}

// Sentinel error kinds; callers wrap these with fmt.Errorf("%w: ...", Err...)
// and translate to the stable apperr codes at the tool boundary.
var (
	ErrInvalidURL   = errors.New("invalid_url")
	ErrFetchFailed  = errors.New("fetch_failed")
	ErrCacheError   = errors.New("cache_error")
	ErrNotSupported = errors.New("not_supported")
)

// Client is the Fetcher. The redirect cap and per-client concurrency gate
// follow the same shape as a plain HTTP client wrapper; what changed is that
// every request now flows through the disk cache keyed on more than just
// the URL.
type Client struct {
	HTTPClient      *http.Client
	UserAgent       string
	RedirectMaxHops int
	MaxConcurrent   int

	Cache *cache.HTTPCache

	// Robots, when set, is consulted before every network fetch (never on a
	// cache hit). A disallowed URL surfaces as ErrFetchFailed, non-retryable
	// in spirit even though the sentinel is shared with transport failures.
	Robots RobotsChecker

	limiter     chan struct{}
	limiterOnce sync.Once
}

// DroppedHeaders reports which sensitive header names (lower-cased) would be
// removed from headers before a request is made. Only names are returned,
// never values, so the evidence pack can record request.dropped_request_headers
// without leaking secrets.
func DroppedHeaders(headers map[string]string, allowUnsafe bool) []string {
	if allowUnsafe {
		return nil
	}
	var dropped []string
	for k := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			dropped = append(dropped, strings.ToLower(k))
		}
	}
	sort.Strings(dropped)
	return dropped
}

func safeHeaders(headers map[string]string, allowUnsafe bool) map[string]string {
	if allowUnsafe {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// CacheKey computes the stable key over (method, url, max_bytes, sorted
// whitelisted headers, ttl bucket). Sensitive headers never enter the key,
// so two requests differing only by Authorization share a cache entry.
func CacheKey(req Request) string {
	headers := safeHeaders(req.Headers, req.AllowUnsafeHeaders)
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("GET\n")
	b.WriteString(req.URL)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d\n", req.MaxBytes)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", strings.ToLower(k), headers[k])
	}
	fmt.Fprintf(&b, "ttl=%d\n", req.Cache.TTLS)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Fetch performs the cache-first bounded retrieval.
func (c *Client) Fetch(ctx context.Context, req Request) (Response, error) {
	timings := map[string]int64{}
	t0 := time.Now()
	defer func() { timings["total_ms"] = time.Since(t0).Milliseconds() }()

	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || u.Scheme == "" || u.Host == "" || !isHTTPScheme(u) {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)
	}

	key := CacheKey(req)

	if req.Cache.Read && c.Cache != nil {
		tCache := time.Now()
		resp, ok := c.tryCacheHit(key, req.URL)
		timings["cache_ms"] = time.Since(tCache).Milliseconds()
		if ok {
			resp.TimingsMs = timings
			return resp, nil
		}
	}

	if req.NoNetwork {
		return Response{}, fmt.Errorf("%w: cache miss in offline mode for %q", ErrNotSupported, req.URL)
	}

	if c.Robots != nil {
		allowed, err := c.Robots.IsAllowed(ctx, req.URL, c.UserAgent)
		if err == nil && !allowed {
			return Response{}, fmt.Errorf("%w: disallowed by robots.txt for %q", ErrFetchFailed, req.URL)
		}
	}

	tNet := time.Now()
	resp, err := c.fetchNetwork(ctx, req, u)
	timings["network_ms"] = time.Since(tNet).Milliseconds()
	if err != nil {
		return Response{}, err
	}
	resp.TimingsMs = timings

	if req.Cache.Write && c.Cache != nil {
		if err := c.save(key, resp, req.Cache.TTLS); err != nil {
			log.Warn().Err(err).Str("url", req.URL).Msg("fetch: cache write failed")
		}
	}
	return resp, nil
}

// FetchWithRetry performs Fetch and, when req.RetryOnTruncation is set and
// the primary attempt truncated, re-issues with max_bytes doubled up to
// TruncationRetryMaxBytes (default: 2x), returning both attempts.
func (c *Client) FetchWithRetry(ctx context.Context, req Request) (Attempts, error) {
	primary, err := c.Fetch(ctx, req)
	if err != nil {
		return Attempts{}, err
	}
	att := Attempts{Local: &primary}
	if !req.RetryOnTruncation || !primary.Truncated {
		return att, nil
	}

	cap := req.TruncationRetryMaxBytes
	if cap <= 0 {
		cap = req.MaxBytes * 2
	}
	newMax := req.MaxBytes * 2
	if newMax > cap {
		newMax = cap
	}

	retryReq := req
	retryReq.MaxBytes = newMax
	retryReq.RetryOnTruncation = false
	retry, rerr := c.Fetch(ctx, retryReq)
	if rerr != nil {
		att.LocalRetryErr = rerr
		return att, nil
	}
	att.LocalRetry = &retry
	return att, nil
}

// CacheGet performs a cache-only lookup without touching the network.
func (c *Client) CacheGet(req Request) (*Response, bool) {
	if c.Cache == nil {
		return nil, false
	}
	resp, ok := c.tryCacheHit(CacheKey(req), req.URL)
	if !ok {
		return nil, false
	}
	return &resp, true
}

func (c *Client) tryCacheHit(key, originalURL string) (Response, bool) {
	meta, err := c.Cache.LoadMetaByKey(key)
	if err != nil || meta == nil || meta.Expired(time.Now()) {
		return Response{}, false
	}
	body, err := c.Cache.LoadBodyByKey(key)
	if err != nil {
		return Response{}, false
	}
	return Response{
		URL:         originalURL,
		FinalURL:    meta.FinalURL,
		Status:      meta.Status,
		ContentType: meta.ContentType,
		Headers:     meta.Headers,
		Bytes:       body,
		Truncated:   meta.Truncated,
		Source:      SourceCache,
	}, true
}

func (c *Client) save(key string, resp Response, ttlSeconds int) error {
	entry := cache.HTTPEntry{
		URL:         resp.URL,
		FinalURL:    resp.FinalURL,
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Headers:     resp.Headers,
		Truncated:   resp.Truncated,
		TTLSeconds:  ttlSeconds,
	}
	if err := c.Cache.SaveByKey(key, entry, resp.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheError, err)
	}
	return nil
}

func (c *Client) fetchNetwork(ctx context.Context, req Request, u *url.URL) (Response, error) {
	c.acquire()
	defer c.release()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range safeHeaders(req.Headers, req.AllowUnsafeHeaders) {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.getHTTPClient().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20 // 1 MiB default bound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	headers := map[string]string{}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		headers["content-type"] = ct
	}
	if et := resp.Header.Get("ETag"); et != "" {
		headers["etag"] = et
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Response{
		URL:         req.URL,
		FinalURL:    finalURL,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     headers,
		Bytes:       body,
		Truncated:   truncated,
		Source:      SourceNetwork,
	}, nil
}

func (c *Client) getHTTPClient() *http.Client {
	var base http.Client
	if c.HTTPClient != nil {
		base = *c.HTTPClient
	}
	base.CheckRedirect = c.checkRedirectFunc()
	return &base
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	c.limiter <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

// JSONBodyLooksLikeHTMLShell is a light heuristic that reports whether body
// is HTML served under a missing or wrong content-type.
func JSONBodyLooksLikeHTMLShell(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 6 {
		return false
	}
	head := bytes.ToLower(trimmed[:minInt(256, len(trimmed))])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
