package app

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	u "collectopdf/internal/utils"
)

func minimalConfig() u.Config {
	var cfg u.Config
	// Unreachable backends so middleware init fails fast onto the memory store.
	cfg.Cache.RedisHost = "127.0.0.1:1"
	cfg.WFS.URL = "http://127.0.0.1:1"
	cfg.WFS.TypeName = "bm_public_transport:Collecto_stops"
	cfg.WFS.SRSName = "EPSG:3812"
	cfg.WFS.TimeoutSecs = 1
	cfg.Images.MapPrintURL = "http://127.0.0.1:1/?ATLAS_PK={gid}"
	cfg.Images.MediaBaseURL = "http://127.0.0.1:1/media/"
	cfg.Images.TimeoutSecs = 1
	return cfg
}

func TestSetupApp_RoutesAndJSON404(t *testing.T) {
	app := SetupApp(minimalConfig(), nil)

	resp404, err := app.Test(httptest.NewRequest("GET", "/does-not-exist", nil), -1)
	if err != nil {
		t.Fatalf("404 request failed: %v", err)
	}
	if resp404.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp404.StatusCode)
	}
	if ct := resp404.Header.Get("Content-Type"); !strings.Contains(ct, "json") {
		t.Fatalf("expected JSON error response, got %q", ct)
	}

	respLive, err := app.Test(httptest.NewRequest("GET", "/livez", nil), -1)
	if err != nil {
		t.Fatalf("livez request failed: %v", err)
	}
	if respLive.StatusCode != fiber.StatusOK {
		t.Fatalf("expected livez 200, got %d", respLive.StatusCode)
	}

	// Route is mounted; the unreachable WFS backend surfaces as a 500 with a
	// JSON diagnostic, not a 404.
	respStop, err := app.Test(httptest.NewRequest("GET", "/v1/collecto/42", nil), -1)
	if err != nil {
		t.Fatalf("collecto request failed: %v", err)
	}
	if respStop.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 from unreachable WFS, got %d", respStop.StatusCode)
	}
	body, _ := io.ReadAll(respStop.Body)
	if !strings.Contains(string(body), "Could not query WFS") {
		t.Fatalf("expected WFS diagnostic, got %q", string(body))
	}
}

func TestReadinessProbePingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := minimalConfig()
	cfg.Cache.RedisHost = mr.Addr()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	app := SetupApp(cfg, rdb)

	respReady, err := app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	if err != nil {
		t.Fatalf("readyz request failed: %v", err)
	}
	if respReady.StatusCode != fiber.StatusOK {
		t.Fatalf("expected readyz 200 with live redis, got %d", respReady.StatusCode)
	}

	mr.Close()

	respDown, err := app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	if err != nil {
		t.Fatalf("readyz request failed: %v", err)
	}
	if respDown.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503 with redis down, got %d", respDown.StatusCode)
	}
}

func TestKeyAuth_InvalidKeyRejected(t *testing.T) {
	u.LoadTokensFromMap(map[string]int{"good-token": 10})

	app := SetupApp(minimalConfig(), nil)

	req := httptest.NewRequest("GET", "/v1/collecto/42", nil)
	req.Header.Set("X-API-Key", "bad-token")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", resp.StatusCode)
	}
}
