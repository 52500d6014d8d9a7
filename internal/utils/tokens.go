package utils

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var tokens struct {
	sync.RWMutex
	cache map[string]int
}

var tokenDB struct {
	sync.Mutex
	dsn string
	db  *sql.DB
}

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded
	// yet, e.g. while Postgres is still starting up.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

func getTokenDB(dsn string) (*sql.DB, error) {
	tokenDB.Lock()
	defer tokenDB.Unlock()

	if tokenDB.db != nil && tokenDB.dsn == dsn {
		return tokenDB.db, nil
	}
	if tokenDB.db != nil {
		_ = tokenDB.db.Close()
		tokenDB.db = nil
		tokenDB.dsn = ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Small control plane table, keep the pool tiny.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	tokenDB.db = db
	tokenDB.dsn = dsn
	return tokenDB.db, nil
}

// LoadTokensFromPostgres reads all API tokens and their rate limits from
// Postgres into the in-memory cache, creating the table on first use.
func LoadTokensFromPostgres(dsn string) error {
	db, err := getTokenDB(dsn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ddl := `CREATE TABLE IF NOT EXISTS api_tokens (
		token TEXT PRIMARY KEY,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		comment TEXT
	);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM api_tokens;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return err
		}
		cache[token] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tokens.Lock()
	tokens.cache = cache
	tokens.Unlock()
	return nil
}

// LoadTokensFromMap replaces the in-memory token cache with the provided map.
// Intended for tests and local debugging.
func LoadTokensFromMap(m map[string]int) {
	cache := make(map[string]int)
	for k, v := range m {
		cache[k] = v
	}
	tokens.Lock()
	tokens.cache = cache
	tokens.Unlock()
}

// TokensReady returns true once the token cache has been initialized.
func TokensReady() bool {
	tokens.RLock()
	defer tokens.RUnlock()
	return tokens.cache != nil
}

// ValidateToken checks whether the given token exists in the cached list.
func ValidateToken(token string) bool {
	tokens.RLock()
	defer tokens.RUnlock()
	_, ok := tokens.cache[token]
	return ok
}

// GetRateLimit returns the configured rate limit for the given token, 0 when
// the token is unknown (which disables per-token limiting).
func GetRateLimit(token string) int {
	tokens.RLock()
	defer tokens.RUnlock()
	if limit, ok := tokens.cache[token]; ok {
		return limit
	}
	return 0
}

// RefreshTokensPeriodically reloads the token list from Postgres at the given
// interval until the stop channel is closed.
func RefreshTokensPeriodically(dsn string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := LoadTokensFromPostgres(dsn); err != nil {
				Error("Failed to reload API tokens", "error", err)
			}
		case <-stop:
			return
		}
	}
}
