package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/carepath/internal/handlers"
	"github.com/stretchr/testify/assert"
)

type mockPinger struct{ err error }

func (m mockPinger) HealthCheck(ctx context.Context) error { return m.err }

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	handlers.NewHealthHandler(mockPinger{}, testLogger()).Health(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, w.Code)

	w = httptest.NewRecorder()
	handlers.NewHealthHandler(mockPinger{err: errors.New("down")}, testLogger()).Health(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 503, w.Code)
}
