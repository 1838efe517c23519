package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"cvesentinel.io/sentinel/internal/api/middleware"
	"cvesentinel.io/sentinel/internal/auth"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/pkg/logger"
	"cvesentinel.io/sentinel/internal/pkg/worker"
	"cvesentinel.io/sentinel/internal/pushhub"
	"cvesentinel.io/sentinel/internal/testutil"
	"cvesentinel.io/sentinel/internal/vuln"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var testJWT = middleware.JWTConfig{
	SigningKey: []byte("handlers-test-signing-key-0123456789"),
	Issuer:     "cve-sentinel",
	ExpiresIn:  time.Hour,
}

type staticAdmins map[string]*auth.AdminRecord

func (d staticAdmins) AdminByUserID(_ context.Context, userID string) (*auth.AdminRecord, error) {
	if rec, ok := d[userID]; ok {
		return rec, nil
	}
	return nil, auth.ErrNoAdminRecord
}

type auditEntry struct {
	Action     string
	ResourceID string
	Actor      string
	Details    map[string]interface{}
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) LogAction(_ context.Context, action, _, resourceID, actor string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{Action: action, ResourceID: resourceID, Actor: actor, Details: details})
	return nil
}

func (r *recordingAudit) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// catalogRepo is an in-memory vuln.Repository.
type catalogRepo struct {
	items []domain.Vulnerability
	top   []domain.SoftwareCount

	lastPipeline mongo.Pipeline
}

func (r *catalogRepo) List(_ context.Context, f vuln.Filter) ([]domain.Vulnerability, int64, error) {
	var out []domain.Vulnerability
	for _, v := range r.items {
		if f.Severity != "" && v.Severity.Normalize() != f.Severity {
			continue
		}
		out = append(out, v)
	}
	total := int64(len(out))
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *catalogRepo) Get(_ context.Context, cveID string) (*domain.Vulnerability, error) {
	for _, v := range r.items {
		if v.CVEID == cveID {
			v := v
			return &v, nil
		}
	}
	return nil, vuln.ErrNotFound
}

func (r *catalogRepo) Aggregate(_ context.Context, pipeline mongo.Pipeline, out interface{}) error {
	r.lastPipeline = pipeline
	*out.(*[]domain.SoftwareCount) = append([]domain.SoftwareCount(nil), r.top...)
	return nil
}

type testEnv struct {
	router  *gin.Engine
	svc     *notification.Service
	store   *testutil.MemoryStore
	prefs   *testutil.MemoryPreferences
	push    *testutil.FakeChannel
	email   *testutil.FakeChannel
	webhook *testutil.FakeChannel
	hub     *pushhub.Hub
	audit   *recordingAudit
	catalog *catalogRepo
	checks  map[string]HealthCheck
}

type envOption func(*testEnv, *ServerDeps)

func withChecks(checks map[string]HealthCheck) envOption {
	return func(_ *testEnv, d *ServerDeps) { d.Checks = checks }
}

// withPools runs ingested events on real worker pools.
func withPools(t *testing.T) envOption {
	t.Helper()
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 4, DeliveryPoolSize: 4})
	if err != nil {
		t.Fatalf("new pools: %v", err)
	}
	t.Cleanup(pools.Shutdown)
	return func(_ *testEnv, d *ServerDeps) { d.Pools = pools }
}

// recordsFor returns the stored notifications of userID.
func (e *testEnv) recordsFor(userID string) []*domain.Notification {
	var out []*domain.Notification
	for _, n := range e.store.All() {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

var openSSLVuln = domain.Vulnerability{
	CVEID:            "CVE-2026-0042",
	Title:            "Heap overflow in TLS handshake",
	Severity:         domain.SeverityCritical,
	CVSSScore:        9.8,
	AffectedSoftware: []string{"OpenSSL 3.2"},
	PublishedAt:      fixedNow.Add(-time.Hour),
}

var nginxVuln = domain.Vulnerability{
	CVEID:            "CVE-2026-0100",
	Title:            "Request smuggling",
	Severity:         domain.SeverityMedium,
	CVSSScore:        5.3,
	AffectedSoftware: []string{"nginx"},
	PublishedAt:      fixedNow.Add(-2 * time.Hour),
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	expired := fixedNow.Add(-time.Minute)
	admins := staticAdmins{
		"root":    {UserID: "root", Role: auth.RoleSuperAdmin, IsActive: true},
		"alerter": {UserID: "alerter", Role: auth.RoleAdmin, IsActive: true, Permissions: []auth.Permission{auth.PermSystemAlerts}},
		"analyst": {UserID: "analyst", Role: auth.RoleAdmin, IsActive: true, Permissions: []auth.Permission{auth.PermViewAnalytics}},
		"stale":   {UserID: "stale", Role: auth.RoleAdmin, IsActive: true, ExpiresAt: &expired, Permissions: []auth.Permission{auth.PermSystemAlerts}},
	}

	env := &testEnv{
		store:   testutil.NewMemoryStore(),
		prefs:   testutil.NewMemoryPreferences(),
		push:    testutil.NewFakeChannel(domain.ChannelPush),
		email:   testutil.NewFakeChannel(domain.ChannelEmail),
		webhook: testutil.NewFakeChannel(domain.ChannelWebhook),
		hub:     pushhub.NewHub(),
		audit:   &recordingAudit{},
		catalog: &catalogRepo{items: []domain.Vulnerability{openSSLVuln, nginxVuln}},
	}
	env.svc = notification.NewService(env.store, env.prefs, testutil.StaticDirectory{"u1": "u1@example.com"},
		notification.Options{
			Channels: []notification.Channel{env.push, env.email, env.webhook},
			Clock:    func() time.Time { return fixedNow },
		})
	rules := testutil.StaticRules{
		{ID: "r1", UserID: "u1", Name: "openssl", Enabled: true,
			Conditions: domain.AlertConditions{AffectedSoftware: []string{"openssl"}}},
	}

	triggers := notification.NewTriggers(env.svc, rules, nil)
	events := domain.NewEventDispatcher()
	triggers.Register(events)

	deps := ServerDeps{
		Notifications: env.svc,
		Triggers:      triggers,
		Events:        events,
		Catalog:       vuln.NewCatalog(env.catalog),
		Guard:         auth.NewGuard(admins, func() time.Time { return fixedNow }),
		Audit:         env.audit,
		Hub:           env.hub,
		Heartbeat:     time.Hour,
	}
	for _, opt := range opts {
		opt(env, &deps)
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler())
	NewServer(deps).RegisterRoutes(r.Group("/api/v1"), middleware.JWTAuth(testJWT))
	env.router = r
	return env
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := middleware.GenerateToken(testJWT, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

// do sends one request. An empty userID sends no Authorization header.
func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeBody(t, w, &body)
	if body.Error == "" {
		t.Fatalf("error body has empty message: %s", w.Body.String())
	}
	return body.Code
}

func (e *testEnv) sendSystemAlert(t *testing.T, userID string) *domain.Notification {
	t.Helper()
	n, err := e.svc.Send(context.Background(), notification.SendRequest{
		UserID:   userID,
		Type:     domain.TypeSystemAlert,
		Title:    "Maintenance",
		Message:  "Read-only at 02:00 UTC",
		Priority: domain.PriorityLow,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return n
}
