// Package zotero is a client for the Zotero Web API v3.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.zotero.org"
	apiVersion     = "3"
	pageSize       = 100
)

// Client defines the Zotero operations used by this application.
type Client interface {
	Item(ctx context.Context, key string) (*Item, error)
	Children(ctx context.Context, key string) ([]Item, error)
	TopItems(ctx context.Context) ([]Item, error)
	CollectionTopItems(ctx context.Context, collectionKey string) ([]Item, error)
	SubCollections(ctx context.Context, collectionKey string) ([]Collection, error)
	Attachments(ctx context.Context) ([]Item, error)
	UpdateItem(ctx context.Context, key string, version int, patch map[string]any) error
	CreateItem(ctx context.Context, data map[string]any) (*Item, error)
	UploadAttachment(ctx context.Context, parentKey, path string) (*Item, error)
	DownloadFile(ctx context.Context, key, dst string) error
}

// APIError is a non-2xx response from the Zotero API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zotero: %s: status %d: %s", e.Op, e.StatusCode, strings.TrimSpace(e.Body))
}

// IsConflict reports whether the write was rejected because the item changed
// since it was read (412 Precondition Failed).
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusPreconditionFailed }

// ClientOption configures the Zotero client.
type ClientOption func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default rate limit (2 req/s). Zero disables it.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	prefix  string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	mu        sync.Mutex
	notBefore time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Zotero client for a "user" or "group" library.
func NewClient(libraryType, libraryID, apiKey string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		prefix:  "/" + libraryType + "s/" + url.PathEscape(libraryID),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(2, 1),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the server-requested backoff has elapsed and the rate
// limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	c.mu.Lock()
	delay := time.Until(c.notBefore)
	c.mu.Unlock()
	if delay > 0 {
		zap.L().Debug("zotero: backing off", zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// noteBackoff records Backoff and Retry-After so the next call waits.
func (c *httpClient) noteBackoff(h http.Header) {
	var secs int
	for _, name := range []string{"Backoff", "Retry-After"} {
		if v, err := strconv.Atoi(strings.TrimSpace(h.Get(name))); err == nil && v > secs {
			secs = v
		}
	}
	if secs <= 0 {
		return
	}
	until := time.Now().Add(time.Duration(secs) * time.Second)
	c.mu.Lock()
	if until.After(c.notBefore) {
		c.notBefore = until
	}
	c.mu.Unlock()
}

type request struct {
	op      string
	method  string
	path    string // relative to the library prefix, or absolute URL
	query   url.Values
	body    io.Reader
	headers map[string]string
	want    []int
}

// do performs a request and returns the response body. Non-expected statuses
// are returned as *APIError, unwrapped, so callers can inspect them.
func (c *httpClient) do(ctx context.Context, r request) ([]byte, http.Header, error) {
	if err := c.wait(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "zotero: rate limit")
	}

	u := r.path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + c.prefix + r.path
	}
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "zotero: %s: create request", r.op)
	}
	if strings.HasPrefix(u, c.baseURL) {
		// net/http drops Authorization when a redirect leaves the API host;
		// file downloads redirect to presigned storage URLs.
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Zotero-API-Version", apiVersion)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "zotero: %s", r.op)
	}
	defer resp.Body.Close() //nolint:errcheck

	c.noteBackoff(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "zotero: %s: read response", r.op)
	}

	want := r.want
	if len(want) == 0 {
		want = []int{http.StatusOK}
	}
	for _, code := range want {
		if resp.StatusCode == code {
			return body, resp.Header, nil
		}
	}
	return nil, resp.Header, &APIError{Op: r.op, StatusCode: resp.StatusCode, Body: string(body)}
}

func (c *httpClient) getJSON(ctx context.Context, op, path string, query url.Values, out any) (http.Header, error) {
	body, h, err := c.do(ctx, request{op: op, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return h, eris.Wrapf(err, "zotero: %s: decode response", op)
	}
	return h, nil
}

// getAll pages through a multi-object endpoint.
func getAll[T any](ctx context.Context, c *httpClient, op, path string, query url.Values) ([]T, error) {
	var all []T
	for start := 0; ; start += pageSize {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("start", strconv.Itoa(start))

		var page []T
		h, err := c.getJSON(ctx, op, path, q, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		total, convErr := strconv.Atoi(h.Get("Total-Results"))
		if len(page) < pageSize || (convErr == nil && len(all) >= total) {
			return all, nil
		}
	}
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
