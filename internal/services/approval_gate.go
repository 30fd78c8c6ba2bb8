package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	maxDecisionAttempts = 3
)

// ListInput is the raw admin listing query.
type ListInput struct {
	Status string
	Page   int
	Limit  int
}

// RequestPage is one page of the admin listing.
type RequestPage struct {
	Requests   []*models.RegistrationRequest
	Pagination models.Pagination
}

// ApprovalGate restricts approve/reject and the admin views to active administrators.
type ApprovalGate struct {
	store        RegistrationStore
	users        UserStore
	hasher       SecretHasher
	notifier     RegistrationNotifier
	audit        *pkglogger.AuditLogger
	policy       RegistrationPolicy
	storeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewApprovalGate(
	store RegistrationStore,
	users UserStore,
	hasher SecretHasher,
	notifier RegistrationNotifier,
	audit *pkglogger.AuditLogger,
	policy RegistrationPolicy,
	logger *slog.Logger,
) *ApprovalGate {
	return &ApprovalGate{
		store:        store,
		users:        users,
		hasher:       hasher,
		notifier:     notifier,
		audit:        audit,
		policy:       policy,
		storeTimeout: 5 * time.Second,
		now:          utcNow,
		logger:       logger,
	}
}

// SetClock overrides the time source.
func (g *ApprovalGate) SetClock(now func() time.Time) {
	g.now = now
}

// SetStoreTimeout bounds every store round trip made by one operation.
func (g *ApprovalGate) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		g.storeTimeout = d
	}
}

// authorize resolves the caller and rejects anyone but an active administrator.
func (g *ApprovalGate) authorize(ctx context.Context, actorID, action string) (*models.User, error) {
	actor, err := g.users.GetByID(ctx, actorID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup actor: %w", err)
	}
	if actor == nil || !actor.IsAdmin() {
		g.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventDecisionDenied, ActorID: actorID, FailureReason: "not_admin",
			Metadata: map[string]string{"action": action},
		})
		return nil, models.ErrForbidden
	}
	return actor, nil
}

// ListRequests returns one page of requests, newest first.
func (g *ApprovalGate) ListRequests(ctx context.Context, actorID string, in ListInput) (*RequestPage, error) {
	filter, err := buildFilter(in)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	if _, err := g.authorize(ctx, actorID, "list"); err != nil {
		return nil, err
	}

	reqs, total, err := g.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}

	now := g.now()
	for i, r := range reqs {
		reqs[i] = withEffectiveStatus(r, now)
	}

	return &RequestPage{
		Requests:   reqs,
		Pagination: models.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

func buildFilter(in ListInput) (models.RegistrationFilter, error) {
	filter := models.RegistrationFilter{Page: in.Page, Limit: in.Limit}
	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultPageLimit
	}
	if filter.Page < 1 || filter.Limit < 1 || filter.Limit > MaxPageLimit {
		return filter, fmt.Errorf("%w: page must be >= 1 and limit between 1 and %d", models.ErrBadRequest, MaxPageLimit)
	}

	if in.Status != "" {
		status, err := models.ParseRegistrationStatus(in.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	return filter, nil
}

// GetRequest returns a single request for the admin detail view.
func (g *ApprovalGate) GetRequest(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	if _, err := g.authorize(ctx, actorID, "view"); err != nil {
		return nil, err
	}

	req, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return withEffectiveStatus(req, g.now()), nil
}

// Approve moves a PENDING request to APPROVED and sends the applicant a
// completion link. Exactly one of several racing decisions wins; the others
// get an InvalidStateError naming the winner.
func (g *ApprovalGate) Approve(ctx context.Context, actorID, id string, notes *string) (*models.RegistrationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	actor, err := g.authorize(ctx, actorID, "approve")
	if err != nil {
		return nil, err
	}

	req, err := g.loadForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	token, err := pkgauth.GenerateCompletionToken()
	if err != nil {
		return nil, err
	}
	tokenHash, err := g.hasher.Hash(token)
	if err != nil {
		return nil, fmt.Errorf("hash completion token: %w", err)
	}

	updated, err := g.commitDecision(ctx, req, models.StatusPending, func(cur *models.RegistrationRequest) (*models.RegistrationRequest, error) {
		return Approve(cur, actor.ID, notes, tokenHash, g.now(), g.policy)
	})
	if err != nil {
		return nil, err
	}

	g.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRequestApproved, RequestID: updated.ID, ActorID: actor.ID, Email: updated.Email, Success: true,
		Metadata: map[string]string{"requested_role": string(updated.RequestedRole)},
	})

	g.notifier.Approved(ctx, updated, token)
	return updated, nil
}

// Reject moves a PENDING request to REJECTED and tells the applicant why.
func (g *ApprovalGate) Reject(ctx context.Context, actorID, id, reason string, notes *string) (*models.RegistrationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	actor, err := g.authorize(ctx, actorID, "reject")
	if err != nil {
		return nil, err
	}

	req, err := g.loadForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := g.commitDecision(ctx, req, models.StatusPending, func(cur *models.RegistrationRequest) (*models.RegistrationRequest, error) {
		return Reject(cur, actor.ID, reason, notes, g.now())
	})
	if err != nil {
		return nil, err
	}

	g.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRequestRejected, RequestID: updated.ID, ActorID: actor.ID, Email: updated.Email, Success: true,
	})

	g.notifier.Rejected(ctx, updated)
	return updated, nil
}

// ResendApproval issues a new completion token for an APPROVED request and voids
// the previous one. A request whose token already lapsed is expired instead.
func (g *ApprovalGate) ResendApproval(ctx context.Context, actorID, id string) (*models.RegistrationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	actor, err := g.authorize(ctx, actorID, "resend_approval")
	if err != nil {
		return nil, err
	}

	req, err := g.loadForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	token, err := pkgauth.GenerateCompletionToken()
	if err != nil {
		return nil, err
	}
	tokenHash, err := g.hasher.Hash(token)
	if err != nil {
		return nil, fmt.Errorf("hash completion token: %w", err)
	}

	updated, err := g.commitDecision(ctx, req, models.StatusApproved, func(cur *models.RegistrationRequest) (*models.RegistrationRequest, error) {
		return RotateCompletionToken(cur, tokenHash, g.now(), g.policy)
	})
	if err != nil {
		return nil, err
	}

	g.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventApprovalResent, RequestID: updated.ID, ActorID: actor.ID, Email: updated.Email, Success: true,
	})

	g.notifier.Approved(ctx, updated, token)
	return updated, nil
}

func (g *ApprovalGate) load(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	return g.store.GetByID(ctx, id)
}

// loadForDecision loads a request and persists lazy expiry when its deadline
// has passed, so an overdue request can never be decided or re-armed.
func (g *ApprovalGate) loadForDecision(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	req, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}

	expired, err := expireIfDue(ctx, g.store, g.audit, req, g.now())
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, &models.InvalidStateError{Current: models.StatusExpired}
	}
	return req, nil
}

// commitDecision applies transition to req and persists the result
// conditionally. A write that misses only because the applicant touched the
// row (a verification attempt or a new code) is re-applied to the fresh row.
// Once the status itself has moved, the current record explains who won.
func (g *ApprovalGate) commitDecision(
	ctx context.Context,
	req *models.RegistrationRequest,
	expected models.RegistrationStatus,
	transition func(cur *models.RegistrationRequest) (*models.RegistrationRequest, error),
) (*models.RegistrationRequest, error) {
	for attempt := 1; ; attempt++ {
		next, err := transition(req)
		if err != nil {
			return nil, err
		}

		updated, err := g.store.Update(ctx, next, expected)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, models.ErrStaleWrite) {
			return nil, fmt.Errorf("persist decision: %w", err)
		}

		current, err := g.store.GetByID(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != expected {
			g.logger.Info("registration decision lost race",
				slog.String("request_id", req.ID),
				slog.String("current_status", string(current.Status)))
			return nil, models.NewInvalidStateError(current)
		}
		if attempt == maxDecisionAttempts {
			return nil, fmt.Errorf("persist decision after %d attempts: %w", attempt, models.ErrStaleWrite)
		}

		g.logger.Debug("registration changed under decision, retrying",
			slog.String("request_id", req.ID), slog.Int("attempt", attempt))
		req = current
	}
}

func withEffectiveStatus(req *models.RegistrationRequest, now time.Time) *models.RegistrationRequest {
	status := EffectiveStatus(req, now)
	if status == req.Status {
		return req
	}
	c := req.Clone()
	c.Status = status
	return c
}
