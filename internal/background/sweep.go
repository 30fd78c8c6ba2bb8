package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Expirer persists expiry for every overdue registration request.
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error)
}

// Sweep expires every overdue request and writes one audit record per request.
func Sweep(ctx context.Context, expirer Expirer, audit *pkglogger.AuditLogger, now time.Time) ([]models.ExpiredRegistration, error) {
	expired, err := expirer.ExpireStale(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, e := range expired {
		audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventRequestExpired, RequestID: e.ID, Email: e.Email, Success: true,
			Metadata: map[string]string{"from_status": string(e.PreviousStatus), "trigger": "sweep"},
		})
	}
	return expired, nil
}

// SweepManager periodically expires overdue registration requests so readers
// and the partial unique index see them as resolved without waiting for the
// next lazy check.
type SweepManager struct {
	expirer Expirer
	audit   *pkglogger.AuditLogger
	logger  *slog.Logger
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time
}

// NewSweepManager schedules the sweep on schedule, a cron expression or descriptor
// such as "@every 15m".
func NewSweepManager(expirer Expirer, schedule string, audit *pkglogger.AuditLogger, logger *slog.Logger) (*SweepManager, error) {
	sm := &SweepManager{
		expirer: expirer,
		audit:   audit,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		timeout: 30 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if _, err := sm.cron.AddFunc(schedule, func() { sm.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return sm, nil
}

// Start runs one sweep immediately and then follows the schedule.
func (sm *SweepManager) Start(ctx context.Context) {
	sm.RunOnce(ctx)
	sm.cron.Start()
	sm.logger.Info("registration sweep started")
}

// Stop waits for a running sweep to finish.
func (sm *SweepManager) Stop() {
	<-sm.cron.Stop().Done()
	sm.logger.Info("registration sweep stopped")
}

// RunOnce expires overdue requests and returns how many it changed.
func (sm *SweepManager) RunOnce(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	expired, err := Sweep(sweepCtx, sm.expirer, sm.audit, sm.now())
	if err != nil {
		sm.logger.Error("failed to expire stale registrations", slog.Any("error", err))
		return 0
	}

	if len(expired) > 0 {
		sm.logger.Info("expired stale registrations", slog.Int("rows_updated", len(expired)))
	}
	return len(expired)
}
