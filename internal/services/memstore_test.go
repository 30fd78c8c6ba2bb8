package services_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	"github.com/google/uuid"
)

// memDB is an in-memory stand-in for PostgreSQL with the same conditional
// update semantics as the repositories. Transactions are serialized and
// rolled back by restoring a snapshot.
type memDB struct {
	mu    sync.Mutex
	reqs  map[string]*models.RegistrationRequest
	users map[string]*models.User

	txMu sync.Mutex

	// failUserCreate, when set, is returned by the next user insert.
	failUserCreate error
}

type txMarker struct{}

func newMemDB() *memDB {
	return &memDB{
		reqs:  make(map[string]*models.RegistrationRequest),
		users: make(map[string]*models.User),
	}
}

func (db *memDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	reqs := make(map[string]*models.RegistrationRequest, len(db.reqs))
	for k, v := range db.reqs {
		reqs[k] = v.Clone()
	}
	users := make(map[string]*models.User, len(db.users))
	for k, v := range db.users {
		u := *v
		users[k] = &u
	}
	db.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		db.mu.Lock()
		db.reqs, db.users = reqs, users
		db.mu.Unlock()
		return err
	}
	return nil
}

type memRegistrations struct{ db *memDB }

func (m *memRegistrations) Create(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, r := range m.db.reqs {
		if strings.EqualFold(r.Email, req.Email) && r.Status.Unresolved() {
			return nil, models.ErrConflict
		}
	}

	c := req.Clone()
	c.ID = uuid.NewString()
	c.Version = 1
	c.UpdatedAt = c.RequestedAt
	m.db.reqs[c.ID] = c
	return c.Clone(), nil
}

func (m *memRegistrations) GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	r, ok := m.db.reqs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memRegistrations) GetUnresolvedByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, r := range m.db.reqs {
		if strings.EqualFold(r.Email, email) && r.Status.Unresolved() {
			return r.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memRegistrations) GetLatestByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var latest *models.RegistrationRequest
	for _, r := range m.db.reqs {
		if !strings.EqualFold(r.Email, email) {
			continue
		}
		if latest == nil || r.RequestedAt.After(latest.RequestedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *memRegistrations) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.RegistrationRequest, int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	matched := make([]*models.RegistrationRequest, 0)
	for _, r := range m.db.reqs {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		matched = append(matched, r.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RequestedAt.After(matched[j].RequestedAt)
	})

	total := int64(len(matched))
	start := filter.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *memRegistrations) Update(ctx context.Context, next *models.RegistrationRequest, expected models.RegistrationStatus) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	cur, ok := m.db.reqs[next.ID]
	if !ok || cur.Status != expected || cur.Version != next.Version {
		return nil, models.ErrStaleWrite
	}

	c := next.Clone()
	c.Version = cur.Version + 1
	m.db.reqs[c.ID] = c
	return c.Clone(), nil
}

func (m *memRegistrations) ReserveVerificationAttempt(ctx context.Context, id string, max int, now time.Time) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	cur, ok := m.db.reqs[id]
	if !ok || !cur.Status.Unresolved() || cur.EmailVerifiedAt != nil || cur.VerificationAttempts >= max {
		return nil, models.ErrStaleWrite
	}

	cur.VerificationAttempts++
	cur.UpdatedAt = now
	cur.Version++
	return cur.Clone(), nil
}

func (m *memRegistrations) MarkEmailVerified(ctx context.Context, id string, at time.Time) (*models.RegistrationRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	cur, ok := m.db.reqs[id]
	if !ok || !cur.Status.Unresolved() {
		return nil, models.ErrStaleWrite
	}

	if cur.EmailVerifiedAt == nil {
		t := at
		cur.EmailVerifiedAt = &t
	}
	cur.VerificationAttempts = 0
	cur.UpdatedAt = at
	cur.Version++
	return cur.Clone(), nil
}

func (m *memRegistrations) ExpireStale(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	var expired []models.ExpiredRegistration
	for _, r := range m.db.reqs {
		pendingDue := r.Status == models.StatusPending && now.After(r.DecisionDeadline)
		approvedDue := r.Status == models.StatusApproved && r.CompletedAt == nil &&
			r.CompletionTokenExpiresAt != nil && now.After(*r.CompletionTokenExpiresAt)
		if !pendingDue && !approvedDue {
			continue
		}
		expired = append(expired, models.ExpiredRegistration{ID: r.ID, Email: r.Email, PreviousStatus: r.Status})
		r.Status = models.StatusExpired
		r.DecidedAt = nil
		r.DecidedBy = nil
		r.VerificationCodeHash = ""
		r.VerificationCodeExpiresAt = nil
		r.CompletionTokenHash = ""
		r.CompletionTokenExpiresAt = nil
		r.UpdatedAt = now
		r.Version++
	}
	return expired, nil
}

// snapshot returns a copy of the stored request for assertions.
func (m *memRegistrations) snapshot(id string) *models.RegistrationRequest {
	r, err := m.GetByID(context.Background(), id)
	if err != nil {
		return nil
	}
	return r
}

func (m *memRegistrations) unresolvedCount(email string) int {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	n := 0
	for _, r := range m.db.reqs {
		if strings.EqualFold(r.Email, email) && r.Status.Unresolved() {
			n++
		}
	}
	return n
}

type memUsers struct{ db *memDB }

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	u, ok := m.db.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	for _, u := range m.db.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()

	if err := m.db.failUserCreate; err != nil {
		m.db.failUserCreate = nil
		return nil, err
	}
	for _, u := range m.db.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, models.ErrConflict
		}
	}

	c := *user
	c.ID = uuid.NewString()
	m.db.users[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memUsers) count() int {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return len(m.db.users)
}
