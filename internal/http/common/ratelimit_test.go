package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bordereau/internal/domain/bsd"
	"bordereau/internal/http/auth"
	"bordereau/internal/infra/ratelimit"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func rateLimitedRouter(policy RateLimitPolicy) *gin.Engine {
	authn := stubAuthenticator{principal: bsd.Principal{Subject: "user-1", Scopes: []string{bsd.PermDocumentSign}}}
	router := gin.New()
	router.POST("/sign",
		AuthMiddleware(authn, auth.NewAuthorizer(), bsd.PermDocumentSign, false),
		RateLimit(policy, "sign"),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return router
}

func TestRateLimitPerSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := rateLimitedRouter(RateLimitPolicy{Limiter: ratelimit.NewMemory(0, nil), Requests: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("RateLimit-Remaining") != "0" {
		t.Fatalf("missing rate limit headers: %v", rec.Header())
	}
}

func TestRateLimitFailureModes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	open := rateLimitedRouter(RateLimitPolicy{Limiter: brokenLimiter{}, Requests: 1, Window: time.Minute})
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open limiter should let the call through, got %d", rec.Code)
	}

	closed := rateLimitedRouter(RateLimitPolicy{Limiter: brokenLimiter{}, Requests: 1, Window: time.Minute, FailClosed: true})
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("fail-closed limiter should reject, got %d", rec.Code)
	}
}
