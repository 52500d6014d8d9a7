package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	u "collectopdf/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

var (
	tokenLimiterCache struct {
		sync.RWMutex
		handlers map[int]fiber.Handler
	}
	rateLimitStore fiber.Storage
)

func limitReached(kind string) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		u.Warn("Rate limit exceeded", "kind", kind, "path", c.Path())
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    fiber.StatusTooManyRequests,
				"message": "Too Many Requests",
			},
		})
	}
}

// getTokenLimiter returns a cached limiter for the given token limit, creating one if needed.
func getTokenLimiter(limit int) fiber.Handler {
	tokenLimiterCache.RLock()
	h, ok := tokenLimiterCache.handlers[limit]
	tokenLimiterCache.RUnlock()
	if ok {
		return h
	}

	appCfg := u.GetConfig()
	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        appCfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			if token, ok := c.Locals("api_key").(string); ok {
				return token
			}
			return ""
		},
		LimitReached: limitReached("token"),
	})

	tokenLimiterCache.Lock()
	if tokenLimiterCache.handlers == nil {
		tokenLimiterCache.handlers = make(map[int]fiber.Handler)
	}
	tokenLimiterCache.handlers[limit] = h
	tokenLimiterCache.Unlock()

	return h
}

// rateLimitMiddleware applies per-token rate limits for authenticated requests.
func rateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("api_key").(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := u.GetRateLimit(token)
		if limit == 0 {
			return c.Next()
		}
		return getTokenLimiter(limit)(c)
	}
}

// userRateLimitMiddleware limits anonymous requests keyed by client identity.
func userRateLimitMiddleware(cfg u.Config) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userKey := func(c *fiber.Ctx) string {
		sum := sha256.Sum256([]byte(c.IP() + c.Get("User-Agent")))
		return hex.EncodeToString(sum[:])
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator:      userKey,
		LimitReached:      limitReached("user"),
	})
	return func(c *fiber.Ctx) error {
		// Token-based limits were applied earlier; authenticated requests
		// skip the anonymous limiter.
		if token, ok := c.Locals("api_key").(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, cfg u.Config, rdb *redis.Client) {
	rateLimitStore = memoryStorage.New() // safe default

	func() {
		defer func() {
			if r := recover(); r != nil {
				u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			}
		}()
		rateLimitStore = redisStorage.New(redisStorage.Config{
			Addrs:    []string{cfg.Cache.RedisHost},
			Database: cfg.Cache.RateLimitDB,
		})
		u.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	}()

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		// Readiness covers the rate limiter store; the WFS and media hosts
		// are per-request dependencies with their own failure handling.
		ReadinessProbe: func(c *fiber.Ctx) bool {
			if rdb == nil {
				return true
			}
			ctx, cancel := context.WithTimeout(c.Context(), 1*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err() == nil
		},
	}))

	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: "api_key",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			// Provide a clear signal when the token store is not loaded yet.
			if !u.TokensReady() {
				return false, u.ErrTokenStoreNotReady
			}
			if !u.ValidateToken(key) {
				return false, u.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Keyauth can call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if err == u.ErrTokenStoreNotReady {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    status,
					"message": err.Error(),
				},
			})
		},
	}))

	app.Use(rateLimitMiddleware())

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg))
	}

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = c.GetRespHeader("X-Request-ID")
		}
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
