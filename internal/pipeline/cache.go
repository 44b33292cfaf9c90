package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tjfontaine/dynamic-gateway/internal/cachestore"
	"github.com/tjfontaine/dynamic-gateway/internal/domain"
)

// CacheStatusHeader reports HIT or MISS on responses that went through the
// response cache stage.
const CacheStatusHeader = "X-Cache-Status"

// CacheConfig tunes the response cache stage.
type CacheConfig struct {
	Prefix  string
	TTL     time.Duration
	Methods map[string]bool
}

// ResponseCache serves cached backend responses and captures cache misses.
// Only configured methods participate; everything else passes straight
// through. Stored entries share one key space across authenticated users:
// the key is path, query, and body only, never the subject.
type ResponseCache struct {
	store  cachestore.Store
	cfg    CacheConfig
	logger *slog.Logger
}

func NewResponseCache(store cachestore.Store, cfg CacheConfig, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "response-cache")),
	}
}

func (c *ResponseCache) Name() string { return "response-cache" }

func (c *ResponseCache) Process(ctx context.Context, ex *Exchange) (*Verdict, error) {
	if !c.cfg.Methods[strings.ToUpper(ex.Request.Method)] {
		return nil, nil
	}

	key, err := c.keyFor(ex.Request)
	if err != nil {
		// Failure to read the body for hashing degrades to an uncached
		// pass-through, never an error to the client.
		c.logger.Error("failed to build cache key", slog.String("error", err.Error()))
		return nil, nil
	}

	if verdict := c.replay(ctx, key); verdict != nil {
		return verdict, nil
	}

	ex.Writer.Header().Set(CacheStatusHeader, "MISS")
	recorder := newCaptureWriter(ex.Writer)
	ex.Writer = recorder
	ex.Defer(func() {
		c.capture(ex.Request.Context(), key, recorder)
	})
	return nil, nil
}

// replay returns a terminal verdict when the key is cached, nil otherwise.
// Any store or decode failure is logged and treated as a miss.
func (c *ResponseCache) replay(ctx context.Context, key string) *Verdict {
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		c.logger.Error("cache existence check failed", slog.String("error", err.Error()))
		return nil
	}
	if !exists {
		return nil
	}

	value, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			c.logger.Error("cache read failed", slog.String("error", err.Error()))
		}
		return nil
	}

	var cached domain.CachedResponse
	if err := json.Unmarshal([]byte(value), &cached); err != nil {
		c.logger.Error("failed to decode cached response",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil
	}

	c.logger.Info("cache hit", slog.String("key", key))

	header := make(http.Header, len(cached.Headers)+1)
	for name, values := range cached.Headers {
		header[http.CanonicalHeaderKey(name)] = values
	}
	if cached.ContentType != "" {
		header.Set("Content-Type", cached.ContentType)
	}
	header.Set(CacheStatusHeader, "HIT")

	return &Verdict{Status: cached.StatusCode, Header: header, Body: cached.Body}
}

// capture runs after the backend response completed. Successful responses
// are serialized and stored off the request path: the client never waits on
// the cache write, and a failed write is only logged.
func (c *ResponseCache) capture(ctx context.Context, key string, recorder *captureWriter) {
	if recorder.status < 200 || recorder.status >= 300 {
		return
	}

	headers := make(map[string][]string, len(recorder.Header()))
	for name, values := range recorder.Header() {
		if name == CacheStatusHeader {
			continue
		}
		headers[name] = append([]string(nil), values...)
	}

	entry := domain.CachedResponse{
		StatusCode:  recorder.status,
		ContentType: recorder.Header().Get("Content-Type"),
		Headers:     headers,
		Body:        recorder.body.Bytes(),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		c.logger.Error("failed to serialize response for cache", slog.String("error", err.Error()))
		return
	}

	// Detached write: survives client disconnects, never delays the
	// response, never retried.
	go func(ctx context.Context) {
		if err := c.store.Set(ctx, key, string(data), c.cfg.TTL); err != nil {
			c.logger.Error("cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}(context.WithoutCancel(ctx))
}

// keyFor builds the deterministic cache key: prefix + path + ":" + the
// query string with parameters sorted by name. For methods where the body
// matters (everything but GET) the hex SHA-256 of the body is appended, and
// the consumed body is re-attached so downstream readers see it intact.
func (c *ResponseCache) keyFor(r *http.Request) (string, error) {
	key := c.cfg.Prefix + r.URL.Path + ":" + sortedQuery(r.URL.Query())

	if strings.EqualFold(r.Method, http.MethodGet) {
		return key, nil
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
	}

	sum := sha256.Sum256(body)
	return key + ":" + hex.EncodeToString(sum[:]), nil
}

func sortedQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+strings.Join(query[name], ","))
	}
	return strings.Join(pairs, "&")
}

// captureWriter tees the backend response to the client while keeping a
// copy of the status and body for the cache.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the wrapper.
func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
