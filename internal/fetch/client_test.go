package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	body, ok := NewClient(time.Second).Fetch(context.Background(), srv.URL)
	assert.True(t, ok)
	assert.Equal(t, []byte("image-bytes"), body)
}

func TestFetch_AbsentOnFailure(t *testing.T) {
	t.Run("not found status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		body, ok := NewClient(time.Second).Fetch(context.Background(), srv.URL)
		assert.False(t, ok)
		assert.Nil(t, body)
	})

	t.Run("empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		_, ok := NewClient(time.Second).Fetch(context.Background(), srv.URL)
		assert.False(t, ok)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, ok := NewClient(time.Second).Fetch(context.Background(), srv.URL)
		assert.False(t, ok)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("too late"))
		}))
		defer srv.Close()

		_, ok := NewClient(20 * time.Millisecond).Fetch(context.Background(), srv.URL)
		assert.False(t, ok)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, ok := NewClient(time.Second).Fetch(context.Background(), "http://\x00invalid")
		assert.False(t, ok)
	})
}
