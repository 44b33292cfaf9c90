package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/dynamic-gateway/internal/authority"
	"github.com/tjfontaine/dynamic-gateway/internal/cachestore"
	"github.com/tjfontaine/dynamic-gateway/internal/token"
)

// AuthenticatedUserHeader carries the validated subject to the backend.
const AuthenticatedUserHeader = "X-Authenticated-UserId"

const bearerPrefix = "Bearer "

// AuthConfig tunes the token-cache policy of the auth stage.
type AuthConfig struct {
	// CachePrefix prefixes subject ids in the token cache.
	CachePrefix string
	// CacheBuffer is the minimum remaining token lifetime worth caching.
	CacheBuffer time.Duration
	// CacheMargin is subtracted from the remaining lifetime to form the
	// cache TTL, floored at one second.
	CacheMargin time.Duration
}

// Auth validates bearer tokens. A subject already present in the token
// cache is trusted without a remote call; everything else goes to the
// authority, and validated tokens with enough lifetime left are cached.
type Auth struct {
	cache     cachestore.Store
	authority authority.Validator
	cfg       AuthConfig
	logger    *slog.Logger

	now func() time.Time
}

func NewAuth(cache cachestore.Store, validator authority.Validator, cfg AuthConfig, logger *slog.Logger) *Auth {
	return &Auth{
		cache:     cache,
		authority: validator,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "auth")),
		now:       time.Now,
	}
}

func (a *Auth) Name() string { return "auth" }

func (a *Auth) Process(ctx context.Context, ex *Exchange) (*Verdict, error) {
	raw := ex.Request.Header.Get("Authorization")
	if !strings.HasPrefix(raw, bearerPrefix) {
		a.logger.Warn("missing or malformed authorization header",
			slog.String("remote", ex.Request.RemoteAddr))
		return Terminal(http.StatusUnauthorized), nil
	}
	bearer := strings.TrimPrefix(raw, bearerPrefix)

	subject, err := token.Subject(bearer)
	if err != nil {
		// A token whose claims cannot be read is an invalid token,
		// never a server error.
		a.logger.Warn("failed to read token claims", slog.String("error", err.Error()))
		return Terminal(http.StatusUnauthorized), nil
	}

	cacheKey := a.cfg.CachePrefix + subject
	cached, err := a.cache.Exists(ctx, cacheKey)
	if err != nil {
		a.logger.Error("token cache lookup failed", slog.String("error", err.Error()))
		cached = false
	}

	if !cached {
		valid, err := a.authority.Validate(ctx, bearer)
		if err != nil {
			a.logger.Warn("token validation failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()))
			return Terminal(http.StatusUnauthorized), nil
		}
		if !valid {
			a.logger.Warn("token rejected by authority", slog.String("subject", subject))
			return Terminal(http.StatusUnauthorized), nil
		}
		a.maybeCache(ctx, bearer, subject, cacheKey)
	}

	ex.Subject = subject
	ex.Request.Header.Set(AuthenticatedUserHeader, subject)
	return nil, nil
}

// maybeCache stores a freshly validated token when its remaining lifetime
// exceeds the buffer. Tokens close to expiry are not worth caching; tokens
// without an expiry claim are never cached. Cache failures only cost the
// fast path, so they are logged and ignored.
func (a *Auth) maybeCache(ctx context.Context, bearer, subject, cacheKey string) {
	expiry, err := token.Expiry(bearer)
	if err != nil {
		return
	}

	remaining := expiry.Sub(a.now())
	if remaining <= a.cfg.CacheBuffer {
		return
	}

	ttl := remaining - a.cfg.CacheMargin
	if ttl < time.Second {
		ttl = time.Second
	}

	if err := a.cache.Set(ctx, cacheKey, bearer, ttl); err != nil {
		a.logger.Error("failed to cache validated token",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
