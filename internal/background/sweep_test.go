package background

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExpirer struct {
	ExpireStaleFunc func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error)
}

func (m *mockExpirer) ExpireStale(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	return m.ExpireStaleFunc(ctx, now)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

func TestNewSweepManager_InvalidSchedule(t *testing.T) {
	_, err := NewSweepManager(&mockExpirer{}, "every so often", testAudit(), testLogger())
	assert.Error(t, err)
}

func TestSweepManager_RunOnce(t *testing.T) {
	fixed := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	var gotNow time.Time
	var hadDeadline bool

	sm, err := NewSweepManager(&mockExpirer{ExpireStaleFunc: func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
		gotNow = now
		_, hadDeadline = ctx.Deadline()
		return []models.ExpiredRegistration{
			{ID: "r1", Email: "a@example.com", PreviousStatus: models.StatusPending},
			{ID: "r2", Email: "b@example.com", PreviousStatus: models.StatusApproved},
			{ID: "r3", Email: "c@example.com", PreviousStatus: models.StatusPending},
		}, nil
	}}, "@every 15m", testAudit(), testLogger())
	require.NoError(t, err)
	sm.now = func() time.Time { return fixed }

	assert.Equal(t, 3, sm.RunOnce(context.Background()))
	assert.Equal(t, fixed, gotNow)
	assert.True(t, hadDeadline)
}

func TestSweepManager_RunOnceError(t *testing.T) {
	sm, err := NewSweepManager(&mockExpirer{ExpireStaleFunc: func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
		return nil, errors.New("connection refused")
	}}, "@hourly", testAudit(), testLogger())
	require.NoError(t, err)

	assert.Zero(t, sm.RunOnce(context.Background()))
}

func TestSweep_AuditsEachExpiredRequest(t *testing.T) {
	var buf bytes.Buffer
	audit := pkglogger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	expired, err := Sweep(context.Background(), &mockExpirer{ExpireStaleFunc: func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
		return []models.ExpiredRegistration{
			{ID: "r1", Email: "dora@example.com", PreviousStatus: models.StatusPending},
			{ID: "r2", Email: "eli@example.com", PreviousStatus: models.StatusApproved},
		}, nil
	}}, audit, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, pkglogger.EventRequestExpired, first["event_type"])
	assert.Equal(t, "r1", first["request_id"])
	assert.NotContains(t, lines[0], "dora@example.com")
	assert.Contains(t, lines[1], `"from_status":"APPROVED"`)
	assert.Contains(t, lines[1], `"trigger":"sweep"`)
}

func TestSweep_ErrorWritesNoAudit(t *testing.T) {
	var buf bytes.Buffer
	audit := pkglogger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	_, err := Sweep(context.Background(), &mockExpirer{ExpireStaleFunc: func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
		return nil, errors.New("connection refused")
	}}, audit, time.Now())
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestSweepManager_StartRunsImmediately(t *testing.T) {
	calls := make(chan struct{}, 1)
	sm, err := NewSweepManager(&mockExpirer{ExpireStaleFunc: func(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil, nil
	}}, "@every 1h", testAudit(), testLogger())
	require.NoError(t, err)

	sm.Start(context.Background())
	defer sm.Stop()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sweep did not run on start")
	}
}
