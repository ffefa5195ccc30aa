package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"esigate-go/internal/config"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()

	// 1 request per second, burst of 1: the second request is rejected.
	e.Use(RateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1}))
	e.GET("/page", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/page"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}

	got429 := false
	for j := 0; j < 10; j++ {
		if do("/page") == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}

	for j := 0; j < 5; j++ {
		if code := do("/healthz"); code != http.StatusOK {
			t.Fatalf("/healthz status = %d, want %d", code, http.StatusOK)
		}
	}
}
