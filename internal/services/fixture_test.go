package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/carepath/internal/auth"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/BradenHooton/carepath/internal/services"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Cl1nic!anPass"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier records the secrets the workflow would have emailed.
type captureNotifier struct {
	mu       sync.Mutex
	codes    map[string][]string
	tokens   map[string][]string
	rejected map[string]int
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{
		codes:    make(map[string][]string),
		tokens:   make(map[string][]string),
		rejected: make(map[string]int),
	}
}

func (n *captureNotifier) VerificationCode(ctx context.Context, req *models.RegistrationRequest, code string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[req.Email] = append(n.codes[req.Email], code)
}

func (n *captureNotifier) Approved(ctx context.Context, req *models.RegistrationRequest, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[req.Email] = append(n.tokens[req.Email], token)
}

func (n *captureNotifier) Rejected(ctx context.Context, req *models.RegistrationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected[req.Email]++
}

func (n *captureNotifier) lastCode(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.codes[email]
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

func (n *captureNotifier) codeCount(email string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.codes[email])
}

func (n *captureNotifier) lastToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.tokens[email]
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fixture struct {
	db       *memDB
	regs     *memRegistrations
	users    *memUsers
	notifier *captureNotifier
	clock    *testClock
	tokens   *auth.TokenManager
	svc      *services.RegistrationService
	gate     *services.ApprovalGate
	admin    *models.User
	admin2   *models.User
	policy   services.RegistrationPolicy
	hasher   *pkgauth.BcryptHasher
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)
	db := newMemDB()
	regs := &memRegistrations{db: db}
	users := &memUsers{db: db}
	notifier := newCaptureNotifier()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	hasher := pkgauth.NewBcryptHasher(bcrypt.MinCost)
	tokens := auth.NewTokenManager("test-secret-that-is-at-least-32-bytes-long!!", 15*time.Minute, 24*time.Hour)
	policy := services.DefaultRegistrationPolicy()

	materializer := services.NewAccountMaterializer(db, users, regs, hasher, tokens, logger)
	materializer.SetClock(clock.Now)

	svc := services.NewRegistrationService(regs, users, hasher, notifier, materializer, audit, policy, logger)
	svc.SetClock(clock.Now)

	gate := services.NewApprovalGate(regs, users, hasher, notifier, audit, policy, logger)
	gate.SetClock(clock.Now)

	f := &fixture{
		db: db, regs: regs, users: users, notifier: notifier, clock: clock, tokens: tokens,
		svc: svc, gate: gate, policy: policy, hasher: hasher, audit: audit, logger: logger,
	}
	f.admin = f.seedUser(t, "admin@carepath.test", models.RoleAdmin, true)
	f.admin2 = f.seedUser(t, "admin2@carepath.test", models.RoleAdmin, true)
	return f
}

// gateOver builds an approval gate that reads and writes through store.
func (f *fixture) gateOver(store services.RegistrationStore) *services.ApprovalGate {
	gate := services.NewApprovalGate(store, f.users, f.hasher, f.notifier, f.audit, f.policy, f.logger)
	gate.SetClock(f.clock.Now)
	return gate
}

func (f *fixture) seedUser(t *testing.T, email string, role models.Role, active bool) *models.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), &models.User{
		Email: email, PasswordHash: "$2a$04$seed", FirstName: "Seed", LastName: "User",
		Role: role, IsActive: active, CreatedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return u
}

// request files a registration and returns the request id.
func (f *fixture) request(t *testing.T, email string, role models.Role) string {
	t.Helper()
	receipt, err := f.svc.RequestRegistration(context.Background(), services.RegistrationInput{
		Email: email, FirstName: "Test", LastName: "Applicant", Role: string(role),
	})
	require.NoError(t, err)
	return receipt.RequestID
}

func (f *fixture) verify(t *testing.T, email string) {
	t.Helper()
	require.NoError(t, f.svc.VerifyEmail(context.Background(), email, f.notifier.lastCode(email)))
}

func (f *fixture) approve(t *testing.T, id string) *models.RegistrationRequest {
	t.Helper()
	notes := "ok"
	req, err := f.gate.Approve(context.Background(), f.admin.ID, id, &notes)
	require.NoError(t, err)
	return req
}

// wrongCode returns a well-formed code that differs from the one last sent.
func wrongCode(right string) string {
	if right == "000000" {
		return "111111"
	}
	return "000000"
}
