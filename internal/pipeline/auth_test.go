package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tjfontaine/dynamic-gateway/internal/cachestore"
)

// stubValidator counts remote validation calls.
type stubValidator struct {
	valid bool
	err   error
	calls int
}

func (v *stubValidator) Validate(ctx context.Context, token string) (bool, error) {
	v.calls++
	return v.valid, v.err
}

func authTestConfig() AuthConfig {
	return AuthConfig{
		CachePrefix: "auth:",
		CacheBuffer: 30 * time.Second,
		CacheMargin: 10 * time.Second,
	}
}

func bearerToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return raw
}

func runAuth(t *testing.T, stage *Auth, header string) (*Verdict, *Exchange) {
	t.Helper()
	req := httptest.NewRequest("GET", "/users", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	ex := &Exchange{Request: req, Writer: httptest.NewRecorder()}

	verdict, err := stage.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return verdict, ex
}

func TestAuth_MissingHeaderIs401WithoutRemoteCall(t *testing.T) {
	validator := &stubValidator{valid: true}
	stage := NewAuth(cachestore.NewMemory(), validator, authTestConfig(), testLogger())

	for _, header := range []string{"", "Basic dXNlcg==", "bearer lowercase", "token-without-scheme"} {
		verdict, _ := runAuth(t, stage, header)
		if verdict == nil || verdict.Status != http.StatusUnauthorized {
			t.Errorf("header %q: verdict = %+v, want 401", header, verdict)
		}
	}
	if validator.calls != 0 {
		t.Errorf("authority calls = %d, want 0 for malformed headers", validator.calls)
	}
}

func TestAuth_UnreadableClaimsIs401WithoutRemoteCall(t *testing.T) {
	validator := &stubValidator{valid: true}
	stage := NewAuth(cachestore.NewMemory(), validator, authTestConfig(), testLogger())

	verdict, _ := runAuth(t, stage, "Bearer not.a.token")
	if verdict == nil || verdict.Status != http.StatusUnauthorized {
		t.Fatalf("verdict = %+v, want 401", verdict)
	}
	if validator.calls != 0 {
		t.Errorf("authority calls = %d, want 0", validator.calls)
	}
}

func TestAuth_ValidTokenAuthorizesAndInjectsHeader(t *testing.T) {
	validator := &stubValidator{valid: true}
	stage := NewAuth(cachestore.NewMemory(), validator, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "user-7", "exp": time.Now().Add(time.Hour).Unix()})

	verdict, ex := runAuth(t, stage, "Bearer "+raw)
	if verdict != nil {
		t.Fatalf("verdict = %+v, want delegation", verdict)
	}
	if ex.Subject != "user-7" {
		t.Errorf("Subject = %q, want user-7", ex.Subject)
	}
	if got := ex.Request.Header.Get(AuthenticatedUserHeader); got != "user-7" {
		t.Errorf("%s = %q, want user-7", AuthenticatedUserHeader, got)
	}
}

func TestAuth_RejectedTokenIs401(t *testing.T) {
	validator := &stubValidator{valid: false}
	stage := NewAuth(cachestore.NewMemory(), validator, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "u", "exp": time.Now().Add(time.Hour).Unix()})

	verdict, _ := runAuth(t, stage, "Bearer "+raw)
	if verdict == nil || verdict.Status != http.StatusUnauthorized {
		t.Fatalf("verdict = %+v, want 401", verdict)
	}
}

func TestAuth_AuthorityErrorIs401(t *testing.T) {
	validator := &stubValidator{err: context.DeadlineExceeded}
	stage := NewAuth(cachestore.NewMemory(), validator, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "u", "exp": time.Now().Add(time.Hour).Unix()})

	verdict, _ := runAuth(t, stage, "Bearer "+raw)
	if verdict == nil || verdict.Status != http.StatusUnauthorized {
		t.Fatalf("verdict = %+v, want 401 when the authority is unreachable", verdict)
	}
}

func TestAuth_CacheHitSkipsRemoteValidation(t *testing.T) {
	cache := cachestore.NewMemory()
	validator := &stubValidator{valid: true}
	stage := NewAuth(cache, validator, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "cached-user", "exp": time.Now().Add(time.Hour).Unix()})

	cache.Set(context.Background(), "auth:cached-user", raw, time.Minute)

	verdict, ex := runAuth(t, stage, "Bearer "+raw)
	if verdict != nil {
		t.Fatalf("verdict = %+v, want delegation", verdict)
	}
	if validator.calls != 0 {
		t.Errorf("authority calls = %d, want 0 on a cache hit", validator.calls)
	}
	if ex.Subject != "cached-user" {
		t.Errorf("Subject = %q, want cached-user", ex.Subject)
	}
}

func TestAuth_CachesTokenWithPolicyTTL(t *testing.T) {
	// remaining = 100s, buffer = 30s, margin = 10s: entry TTL must be 90s.
	cache := cachestore.NewMemory()
	stage := NewAuth(cache, &stubValidator{valid: true}, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "u1", "exp": time.Now().Add(100 * time.Second).Unix()})

	if verdict, _ := runAuth(t, stage, "Bearer "+raw); verdict != nil {
		t.Fatalf("verdict = %+v, want delegation", verdict)
	}

	exists, err := cache.Exists(context.Background(), "auth:u1")
	if err != nil || !exists {
		t.Fatalf("token should be cached, exists = %v err = %v", exists, err)
	}

	ttl := cache.TTL("auth:u1")
	if ttl <= 88*time.Second || ttl > 90*time.Second {
		t.Errorf("cached TTL = %v, want ~90s", ttl)
	}
}

func TestAuth_SkipsCachingNearExpiry(t *testing.T) {
	// remaining = 20s is inside the 30s buffer: authorized, not cached.
	cache := cachestore.NewMemory()
	stage := NewAuth(cache, &stubValidator{valid: true}, authTestConfig(), testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "u2", "exp": time.Now().Add(20 * time.Second).Unix()})

	verdict, ex := runAuth(t, stage, "Bearer "+raw)
	if verdict != nil {
		t.Fatalf("verdict = %+v, want delegation", verdict)
	}
	if ex.Subject != "u2" {
		t.Errorf("Subject = %q, want u2", ex.Subject)
	}

	exists, _ := cache.Exists(context.Background(), "auth:u2")
	if exists {
		t.Error("token near expiry must not be cached")
	}
}

func TestAuth_TTLFlooredAtOneSecond(t *testing.T) {
	// A margin larger than the remaining lifetime would go negative;
	// the TTL is floored at one second instead.
	cache := cachestore.NewMemory()
	cfg := AuthConfig{CachePrefix: "auth:", CacheBuffer: 5 * time.Second, CacheMargin: 10 * time.Second}
	stage := NewAuth(cache, &stubValidator{valid: true}, cfg, testLogger())
	raw := bearerToken(t, jwt.MapClaims{"userId": "u3", "exp": time.Now().Add(8 * time.Second).Unix()})

	if verdict, _ := runAuth(t, stage, "Bearer "+raw); verdict != nil {
		t.Fatalf("verdict = %+v, want delegation", verdict)
	}

	exists, _ := cache.Exists(context.Background(), "auth:u3")
	if !exists {
		t.Fatal("token should be cached")
	}
	if ttl := cache.TTL("auth:u3"); ttl > time.Second || ttl <= 0 {
		t.Errorf("cached TTL = %v, want the 1s floor", ttl)
	}
}
