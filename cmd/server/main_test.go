package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/internal/config"
	"github.com/ruralpay/coinledger/internal/handlers"
	"github.com/ruralpay/coinledger/internal/lock"
	"github.com/ruralpay/coinledger/internal/services"
	"github.com/ruralpay/coinledger/internal/store/memory"
)

type counterIDs struct{ n int64 }

func (c *counterIDs) NextID() int64 {
	c.n++
	return c.n
}

func TestNewRouter(t *testing.T) {
	cfg := &config.LedgerConfig{ServiceName: "coin-ledger", JWTSecret: "router-secret"}
	svc := services.NewLedgerService(memory.New(), lock.NewLocalMutex(lock.Options{}), &counterIDs{}, nil, nil, nil, services.Options{})
	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"noop": func(context.Context) error { return nil },
	})
	r := newRouter(cfg, svc, health, zap.NewNop())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/health").Code)
		assert.Equal(t, http.StatusOK, get("/ready").Code)
	})

	t.Run("swagger doc", func(t *testing.T) {
		w := get("/swagger/doc.json")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"/accounts/{ownerId}/deposit"`)
		assert.Contains(t, w.Body.String(), "coin-ledger API")
	})

	t.Run("api mounted under v1", func(t *testing.T) {
		w := get("/api/v1/accounts/ghost/balance")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "error")
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})
}
