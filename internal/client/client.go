package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/pkg/cache"
	httputil "github.com/helloworlde/meshkeeper/pkg/http"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

const (
	sessionCookie   = "s"
	maxResponseSize = 16 << 20
	refreshPath     = "/login/refresh"
)

// Caller is the part of the Fetcher the snapshot builder and action queue use.
type Caller interface {
	Call(ctx context.Context, method, pathOrURL string, body interface{}, requiresAuth bool) (interface{}, error)
}

// TokenStore persists the session token by key.
type TokenStore interface {
	Get(key string) (string, error)
	Put(key, token string) error
	Delete(key string) error
}

// Metrics receives fetcher-level events. *metrics.SyncMetrics implements it.
type Metrics interface {
	httputil.MetricsCollector
	RecordTokenRefresh(err error)
	RecordCandidateScore(resource string, score int)
}

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	Account      string
	Tokens       TokenStore
	Metrics      Metrics
	Logger       logger.Logger
	HTTPClient   *http.Client
	Scorer       *TelemetryScorer
	CandidateTTL time.Duration
}

// Fetcher talks to the cloud API. Calls may run concurrently; the session
// token is only changed under mu and refreshes are collapsed to one in flight.
type Fetcher struct {
	base       *url.URL
	httpClient *http.Client
	userAgent  string
	tokens     TokenStore
	tokenKey   string
	log        logger.Logger
	metrics    Metrics

	mu      sync.RWMutex
	token   string
	refresh singleflight.Group

	scorer  TelemetryScorer
	winners *cache.TTLCache[string, string]
}

func NewFetcher(opts Options) (*Fetcher, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid cloud base url %q", opts.BaseURL)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Default
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		cfg := httputil.DefaultConfig()
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		var collector httputil.MetricsCollector
		if opts.Metrics != nil {
			collector = opts.Metrics
		}
		httpClient = httputil.NewMetricsClient(cfg, collector)
	}

	scorer := DefaultScorer()
	if opts.Scorer != nil {
		scorer = *opts.Scorer
	}

	account := opts.Account
	if account == "" {
		account = "default"
	}

	f := &Fetcher{
		base:       base,
		httpClient: httpClient,
		userAgent:  opts.UserAgent,
		tokens:     opts.Tokens,
		tokenKey:   "session:" + account,
		log:        log.With("component", "fetcher"),
		metrics:    opts.Metrics,
		scorer:     scorer,
		winners:    cache.NewTTLCache[string, string](opts.CandidateTTL),
	}

	if f.tokens != nil {
		tok, err := f.tokens.Get(f.tokenKey)
		if err != nil {
			f.log.Warnf("failed to load stored session: %v", err)
		} else {
			f.token = tok
		}
	}
	return f, nil
}

// Token returns the current session token, or "" when signed out.
func (f *Fetcher) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

// HasSession reports whether a session token is held.
func (f *Fetcher) HasSession() bool {
	return f.Token() != ""
}

func (f *Fetcher) setToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()

	if f.tokens == nil {
		return
	}
	var err error
	if token == "" {
		err = f.tokens.Delete(f.tokenKey)
	} else {
		err = f.tokens.Put(f.tokenKey, token)
	}
	if err != nil {
		f.log.Warnf("failed to persist session: %v", err)
	}
}

// ResolveURL turns a resource link or path into an absolute URL. Absolute
// URLs are kept. Paths that already carry the base path (as resource links
// do, e.g. /2.2/networks/1) resolve against the host; anything else is
// joined under the base URL.
func (f *Fetcher) ResolveURL(pathOrURL string) (string, error) {
	p := strings.TrimSpace(pathOrURL)
	if p == "" {
		return "", fmt.Errorf("empty resource path")
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}

	origin := f.base.Scheme + "://" + f.base.Host
	basePath := strings.TrimRight(f.base.Path, "/")

	var full string
	if basePath != "" && (p == basePath || strings.HasPrefix(p, basePath+"/") || strings.HasPrefix(p, basePath+"?")) {
		full = origin + p
	} else {
		full = origin + basePath + "/" + strings.TrimLeft(p, "/")
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Call issues one API request and returns the unwrapped data member of the
// response envelope. With requiresAuth, a 401 triggers exactly one token
// refresh followed by one retry.
func (f *Fetcher) Call(ctx context.Context, method, pathOrURL string, body interface{}, requiresAuth bool) (interface{}, error) {
	target, err := f.ResolveURL(pathOrURL)
	if err != nil {
		return nil, errors.NewInvalidResponseError("invalid resource path "+pathOrURL, err)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, errors.NewInvalidPayloadError("failed to encode request body", err)
	}

	token := ""
	if requiresAuth {
		token = f.Token()
		if token == "" {
			return nil, errors.NewUnauthenticatedError("no session token", nil)
		}
	}

	data, err := f.send(ctx, method, target, payload, token)
	if !requiresAuth || !isUnauthorized(err) {
		return data, err
	}

	f.log.Debugf("session rejected for %s %s, refreshing", method, httputil.EndpointLabel(target))
	fresh, rerr := f.refreshToken(ctx, token)
	if rerr != nil {
		return nil, errors.NewUnauthenticatedError("session refresh failed", rerr)
	}

	data, err = f.send(ctx, method, target, payload, fresh)
	if isUnauthorized(err) {
		return nil, errors.NewUnauthenticatedError("session rejected after refresh", err)
	}
	return data, err
}

func isUnauthorized(err error) bool {
	code, ok := errors.ServerCode(err)
	return ok && code == http.StatusUnauthorized
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

func (f *Fetcher) send(ctx context.Context, method, target string, payload []byte, token string) (interface{}, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.NewInvalidResponseError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewInvalidResponseError(fmt.Sprintf("%s %s failed", method, httputil.EndpointLabel(req.URL.Path)), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.NewInvalidResponseError("failed to read response body", err)
	}

	decoded, decodeErr := decodeJSON(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewServerError(resp.StatusCode, errorMessage(decoded))
	}
	if decodeErr != nil {
		return nil, errors.NewInvalidResponseError("undecodable response body", decodeErr)
	}

	// some endpoints answer 200 with the real status in meta.code
	if code := utils.FirstInt(decoded, "meta.code"); code != nil && *code >= 400 {
		return nil, errors.NewServerError(*code, errorMessage(decoded))
	}

	return unwrapEnvelope(decoded), nil
}

func decodeJSON(raw []byte) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// unwrapEnvelope returns data from a {meta, data} envelope; other bodies are
// returned whole.
func unwrapEnvelope(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	_, hasMeta := m["meta"]
	data, hasData := m["data"]
	if hasMeta {
		return data
	}
	if hasData && len(m) == 1 {
		return data
	}
	return v
}

func errorMessage(v interface{}) string {
	if msg := utils.FirstString(v, "meta.error.message", "meta.error", "message", "error.message", "error"); msg != nil {
		return *msg
	}
	return ""
}

func (f *Fetcher) recordRefresh(err error) {
	if f.metrics != nil {
		f.metrics.RecordTokenRefresh(err)
	}
}

// refreshToken exchanges the current session for a fresh one. Concurrent
// callers that saw the same stale token share a single refresh request.
func (f *Fetcher) refreshToken(ctx context.Context, stale string) (string, error) {
	v, err, _ := f.refresh.Do("refresh", func() (interface{}, error) {
		current := f.Token()
		if current != "" && current != stale {
			return current, nil
		}

		target, err := f.ResolveURL(refreshPath)
		if err != nil {
			return nil, err
		}
		data, err := f.send(ctx, http.MethodPost, target, nil, current)
		if err != nil {
			f.recordRefresh(err)
			return nil, err
		}

		tok := utils.FirstString(data, "user_token", "token", "session_token")
		if tok == nil {
			err := errors.NewInvalidPayloadError("refresh response carried no token", nil)
			f.recordRefresh(err)
			return nil, err
		}
		f.setToken(*tok)
		f.recordRefresh(nil)
		f.log.Info("session token refreshed")
		return *tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
