package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	u "collectopdf/internal/utils"
)

func TestTokenRateLimitOnStopRoute(t *testing.T) {
	token := "sheet-token"
	limit := 2

	u.LoadTokensFromMap(map[string]int{token: limit})
	u.AppConfig.RateLimiter.Interval = time.Hour

	tokenLimiterCache.Lock()
	tokenLimiterCache.handlers = nil
	tokenLimiterCache.Unlock()

	app := SetupApp(minimalConfig(), nil)

	makeReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/v1/collecto/42", nil)
		req.Header.Set("X-API-Key", token)
		return req
	}

	// The unreachable WFS backend turns each delivered request into a 500,
	// which still consumes the token's budget.
	for i := 0; i < limit; i++ {
		resp, err := app.Test(makeReq(), -1)
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusInternalServerError {
			t.Fatalf("expected 500 from unreachable WFS but got %d", resp.StatusCode)
		}
	}

	resp, err := app.Test(makeReq(), -1)
	if err != nil {
		t.Fatalf("exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}
}
