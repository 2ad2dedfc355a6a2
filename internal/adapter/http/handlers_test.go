package http_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	tghttp "github.com/Strob0t/toolgate/internal/adapter/http"
	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/middleware"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
	"github.com/Strob0t/toolgate/internal/service"
)

const (
	testAdminKey = "admin-secret"
	testHookKey  = "hook-secret"
)

// --- mocks ---

type mockEvents struct {
	enqueued []event.Event
	err      error
}

func (m *mockEvents) Enqueue(_ context.Context, ev *event.Event) (*event.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("ev-%d", len(m.enqueued)+1)
	}
	m.enqueued = append(m.enqueued, *ev)
	return ev, nil
}

type mockTools struct {
	defs map[string]tool.Definition
}

func (m *mockTools) List() []tool.Definition {
	out := make([]tool.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	return out
}

func (m *mockTools) Get(_ context.Context, name string) (*tool.Definition, error) {
	d, ok := m.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tool.ErrNotFound, name)
	}
	return &d, nil
}

func (m *mockTools) Register(_ context.Context, d *tool.Definition) error {
	if d.ImplementationRef == "" {
		return fmt.Errorf("%w: implementation_ref is required", domain.ErrValidation)
	}
	m.defs[d.Name] = *d
	return nil
}

func (m *mockTools) Unregister(_ context.Context, name string) error {
	if _, ok := m.defs[name]; !ok {
		return fmt.Errorf("%w: %s", tool.ErrNotFound, name)
	}
	delete(m.defs, name)
	return nil
}

type mockExecutor struct {
	args map[string]any
	cc   tool.CallContext
	task *task.Task
	err  error
}

func (m *mockExecutor) Execute(_ context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error) {
	m.args, m.cc = args, cc
	if m.task != nil || m.err != nil {
		return m.task, m.err
	}
	return &task.Task{ID: "task-1", ToolName: name, UserID: cc.UserID, Status: task.StatusCompleted, Parameters: args}, nil
}

type mockCredits struct {
	pools        map[string]*credit.Pool
	added        int64
	hasPoolCalls int
}

func (m *mockCredits) Pool(_ context.Context, userID string) (*credit.Pool, error) {
	p, ok := m.pools[userID]
	if !ok {
		return nil, fmt.Errorf("credit pool for user %s: %w", userID, domain.ErrNotFound)
	}
	return p, nil
}

func (m *mockCredits) HasPool(_ context.Context, userID string) (bool, error) {
	m.hasPoolCalls++
	_, ok := m.pools[userID]
	return ok, nil
}

func (m *mockCredits) OpenPool(_ context.Context, userID, currency string, limits credit.SpendingLimits) (*credit.Pool, error) {
	if _, ok := m.pools[userID]; ok {
		return nil, domain.ErrConflict
	}
	p := &credit.Pool{ID: "pool-" + userID, UserID: userID, Currency: currency, IsActive: true, Settings: credit.Settings{SpendingLimits: limits}}
	m.pools[userID] = p
	return p, nil
}

func (m *mockCredits) UpdatePool(ctx context.Context, userID string, u service.PoolUpdate) (*credit.Pool, error) {
	p, err := m.Pool(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Verified != nil {
		p.IsVerified = *u.Verified
	}
	if u.Active != nil {
		p.IsActive = *u.Active
	}
	return p, nil
}

func (m *mockCredits) Add(ctx context.Context, userID string, amount int64, c service.Charge) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	p, err := m.Pool(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Balance += amount
	m.added += amount
	return &credit.Transaction{ID: "tx-1", Type: credit.TxCredit, Amount: amount, Status: credit.TxCompleted, Description: c.Description}, nil
}

func (m *mockCredits) Refund(ctx context.Context, userID string, amount int64, c service.Charge) (*credit.Transaction, error) {
	p, err := m.Pool(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Balance += amount
	return &credit.Transaction{ID: "tx-2", Type: credit.TxRefund, Amount: amount, Status: credit.TxCompleted, TaskID: c.TaskID}, nil
}

type mockRecords struct {
	events  map[string]*event.Event
	tasks   map[string]*task.Task
	txns    []credit.Transaction
	since   time.Time
	pingErr error
}

func (m *mockRecords) GetEvent(_ context.Context, id string) (*event.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ev, nil
}

func (m *mockRecords) GetTask(_ context.Context, id string) (*task.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockRecords) ListTasksByEvent(_ context.Context, eventID string) ([]task.Task, error) {
	var out []task.Task
	for _, t := range m.tasks {
		if t.EventID == eventID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockRecords) ListCreditTransactions(_ context.Context, _ string, since time.Time) ([]credit.Transaction, error) {
	m.since = since
	return m.txns, nil
}

func (m *mockRecords) Ping(context.Context) error { return m.pingErr }

type mockBroker struct{ connected bool }

func (m mockBroker) IsConnected() bool { return m.connected }

// --- harness ---

type fixture struct {
	events  *mockEvents
	tools   *mockTools
	exec    *mockExecutor
	credits *mockCredits
	records *mockRecords
	h       *tghttp.Handlers
	router  chi.Router
}

func newFixture() *fixture {
	f := &fixture{
		events: &mockEvents{},
		tools: &mockTools{defs: map[string]tool.Definition{
			"notify": {
				Name:              "notify",
				Enabled:           true,
				ImplementationRef: "echo",
				Schema: tool.Schema{Properties: map[string]tool.Property{
					"msg":   {Type: "string"},
					"owner": {Source: tool.SourceUser},
				}},
			},
			"private": {Name: "private", Enabled: true, RequiresAuth: true, ImplementationRef: "echo"},
		}},
		exec:    &mockExecutor{},
		credits: &mockCredits{pools: map[string]*credit.Pool{}},
		records: &mockRecords{events: map[string]*event.Event{}, tasks: map[string]*task.Task{}},
	}
	f.h = &tghttp.Handlers{
		Events:   f.events,
		Tools:    f.tools,
		Executor: f.exec,
		Credits:  f.credits,
		Records:  f.records,
		Version:  "test",
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Identity)
	tghttp.MountRoutes(r, f.h, tghttp.RouteConfig{
		AdminKey:      middleware.Static(testAdminKey),
		WebhookSecret: middleware.Static(testHookKey),
	})
	f.router = r
	return f
}

func (f *fixture) do(method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type errBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	TaskID string `json:"task_id"`
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) errBody {
	t.Helper()
	var b errBody
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return b
}

// --- events ---

func TestEnqueueEventAttributesCaller(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/api/v1/events", "u1", map[string]any{
		"type": "order.created",
		"data": map[string]any{"total": 12},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.events.enqueued) != 1 || f.events.enqueued[0].UserID != "u1" {
		t.Fatalf("enqueued = %+v", f.events.enqueued)
	}
}

func TestEnqueueEventRejects(t *testing.T) {
	tests := []struct {
		name string
		user string
		body map[string]any
		err  error
		want int
	}{
		{"foreign user", "u1", map[string]any{"type": "x", "user_id": "u2"}, nil, http.StatusForbidden},
		{"anonymous naming user", "", map[string]any{"type": "x", "user_id": "u2"}, nil, http.StatusForbidden},
		{"missing type", "u1", map[string]any{}, nil, http.StatusBadRequest},
		{"validation", "u1", map[string]any{"type": "x"}, fmt.Errorf("%w: event type too long", domain.ErrValidation), http.StatusBadRequest},
		{"duplicate id", "u1", map[string]any{"type": "x", "id": "e1"}, domain.ErrConflict, http.StatusConflict},
		{"store down", "u1", map[string]any{"type": "x"}, fmt.Errorf("%w: create event: boom", domain.ErrPersistence), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.events.err = tt.err
			w := f.do(http.MethodPost, "/api/v1/events", tt.user, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestEnqueueEventValidationMessage(t *testing.T) {
	f := newFixture()
	f.events.err = fmt.Errorf("%w: event type too long (max 128 chars)", domain.ErrValidation)
	w := f.do(http.MethodPost, "/api/v1/events", "u1", map[string]any{"type": "x"})

	b := decodeErr(t, w)
	if b.Error != "event type too long (max 128 chars)" || b.Kind != service.KindValidation {
		t.Fatalf("body = %+v", b)
	}
}

func TestSignedIngest(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"type":"payment.settled","user_id":"u9"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/events", bytes.NewReader(payload))
	req.Header.Set(middleware.HeaderSignature, "sha256="+hex.EncodeToString(middleware.Sign(payload, testHookKey)))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if f.events.enqueued[0].UserID != "u9" {
		t.Fatalf("signed event user = %q", f.events.enqueued[0].UserID)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/events", bytes.NewReader(payload))
	bad.Header.Set(middleware.HeaderSignature, "sha256=00")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, bad)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", w.Code)
	}
}

func TestGetEventVisibility(t *testing.T) {
	f := newFixture()
	f.records.events["e1"] = &event.Event{ID: "e1", Type: "x", UserID: "u1"}
	f.records.events["e2"] = &event.Event{ID: "e2", Type: "x"}
	f.records.tasks["t1"] = &task.Task{ID: "t1", EventID: "e1", UserID: "u1"}

	tests := []struct {
		path string
		user string
		want int
	}{
		{"/api/v1/events/e1", "u1", http.StatusOK},
		{"/api/v1/events/e1", "u2", http.StatusNotFound},
		{"/api/v1/events/e1", "", http.StatusNotFound},
		{"/api/v1/events/e2", "", http.StatusOK},
		{"/api/v1/events/missing", "u1", http.StatusNotFound},
		{"/api/v1/events/e1/tasks", "u1", http.StatusOK},
		{"/api/v1/events/e1/tasks", "u2", http.StatusNotFound},
		{"/api/v1/tasks/t1", "u1", http.StatusOK},
		{"/api/v1/tasks/t1", "u2", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.user, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, tt.user, nil)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// --- tools ---

func TestListToolsAvailability(t *testing.T) {
	f := newFixture()

	var all []struct {
		Name      string `json:"name"`
		Available bool   `json:"available"`
	}
	w := f.do(http.MethodGet, "/api/v1/tools", "", nil)
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(all))
	}
	for _, d := range all {
		if d.Name == "private" && d.Available {
			t.Error("auth-only tool reported available to anonymous caller")
		}
	}

	w = f.do(http.MethodGet, "/api/v1/tools?available=true", "", nil)
	all = nil
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Name != "notify" {
		t.Fatalf("available tools = %+v", all)
	}
}

func TestListToolsPaidToolNeedsPool(t *testing.T) {
	f := newFixture()
	f.tools.defs["premium"] = tool.Definition{Name: "premium", Enabled: true, RequiresPayment: true, ImplementationRef: "echo"}

	availableNames := func(user string) []string {
		t.Helper()
		var list []struct {
			Name string `json:"name"`
		}
		w := f.do(http.MethodGet, "/api/v1/tools?available=true", user, nil)
		if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
			t.Fatal(err)
		}
		names := make([]string, 0, len(list))
		for _, d := range list {
			names = append(names, d.Name)
		}
		sort.Strings(names)
		return names
	}

	if got := availableNames("u1"); slices.Contains(got, "premium") {
		t.Errorf("paid tool listed as available without a credit pool: %v", got)
	}
	if f.credits.hasPoolCalls != 1 {
		t.Errorf("HasPool calls = %d, want 1 per request", f.credits.hasPoolCalls)
	}

	f.credits.pools["u1"] = &credit.Pool{UserID: "u1", IsActive: true}
	if got := availableNames("u1"); !slices.Contains(got, "premium") {
		t.Errorf("paid tool missing for caller with a pool: %v", got)
	}
}

func TestGetToolNotFound(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodGet, "/api/v1/tools/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if b := decodeErr(t, w); b.Kind != service.KindToolNotFound {
		t.Fatalf("kind = %q", b.Kind)
	}
}

func TestExecuteToolFillsUserArgs(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/api/v1/tools/notify/execute", "u1", map[string]any{
		"arguments": map[string]any{"msg": "hi", "owner": "mallory"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.exec.args["owner"] != "u1" || f.exec.args["msg"] != "hi" {
		t.Fatalf("args = %v", f.exec.args)
	}
	if !f.exec.cc.Authenticated || f.exec.cc.UserID != "u1" {
		t.Fatalf("call context = %+v", f.exec.cc)
	}
}

func TestExecuteToolErrors(t *testing.T) {
	failed := &task.Task{ID: "task-9", Status: task.StatusFailed}
	tests := []struct {
		name     string
		task     *task.Task
		err      error
		want     int
		kind     string
		taskID   string
		retryHdr string
	}{
		{"rate limited", nil, &ratelimit.ExceededError{Tool: "notify", UserID: "u1", RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, service.KindRateLimitExceeded, "", "2"},
		{"unavailable", nil, &tool.UnavailableError{Tool: "notify", Reason: tool.ReasonDisabled}, http.StatusForbidden, service.KindToolUnavailable, "", ""},
		{"budget", nil, &credit.InsufficientBudgetError{UserID: "u1", Amount: 5, Reason: credit.ReasonBalance}, http.StatusPaymentRequired, service.KindInsufficientBudget, "", ""},
		{"implementation", failed, &plugin.ImplementationError{Ref: "echo", Err: errors.New("boom")}, http.StatusBadGateway, service.KindImplementation, "task-9", ""},
		{"timeout", failed, fmt.Errorf("echo: %w", plugin.ErrTimeout), http.StatusGatewayTimeout, service.KindTimeout, "task-9", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.exec.task, f.exec.err = tt.task, tt.err
			w := f.do(http.MethodPost, "/api/v1/tools/notify/execute", "u1", map[string]any{})
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryHdr {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryHdr)
			}
			b := decodeErr(t, w)
			if b.Kind != tt.kind || b.TaskID != tt.taskID {
				t.Errorf("body = %+v", b)
			}
		})
	}
}

func TestAdminToolRoutes(t *testing.T) {
	f := newFixture()
	def := map[string]any{"name": "audit", "enabled": true, "implementation_ref": "echo"}

	if w := f.do(http.MethodPost, "/api/v1/admin/tools", "", def); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/admin/tools", "", def, "X-Admin-Key", "wrong"); w.Code != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/api/v1/admin/tools", "", def, "Authorization", "Bearer "+testAdminKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := f.tools.defs["audit"]; !ok {
		t.Fatal("tool not registered")
	}

	bad := map[string]any{"name": "broken"}
	if w := f.do(http.MethodPost, "/api/v1/admin/tools", "", bad, "X-Admin-Key", testAdminKey); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid definition: expected 400, got %d", w.Code)
	}

	if w := f.do(http.MethodDelete, "/api/v1/admin/tools/audit", "", nil, "X-Admin-Key", testAdminKey); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/api/v1/admin/tools/audit", "", nil, "X-Admin-Key", testAdminKey); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

// --- credits ---

func TestMyCreditsRequiresUser(t *testing.T) {
	f := newFixture()
	if w := f.do(http.MethodGet, "/api/v1/credits", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/v1/credits", "u1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("no pool: expected 404, got %d", w.Code)
	}
}

func TestCreditLifecycle(t *testing.T) {
	f := newFixture()
	admin := []string{"X-Admin-Key", testAdminKey}

	w := f.do(http.MethodPost, "/api/v1/admin/credits/u1", "", map[string]any{"limits": map[string]any{"daily": 100}}, admin...)
	if w.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if f.credits.pools["u1"].Currency != "credits" {
		t.Fatalf("currency = %q", f.credits.pools["u1"].Currency)
	}
	if w := f.do(http.MethodPost, "/api/v1/admin/credits/u1", "", map[string]any{}, admin...); w.Code != http.StatusConflict {
		t.Fatalf("reopen: expected 409, got %d", w.Code)
	}

	if w := f.do(http.MethodPatch, "/api/v1/admin/credits/u1", "", map[string]any{"verified": true}, admin...); w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}
	if !f.credits.pools["u1"].IsVerified {
		t.Fatal("pool not verified")
	}

	if w := f.do(http.MethodPost, "/api/v1/admin/credits/u1/add", "", map[string]any{"amount": 50}, admin...); w.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/admin/credits/u1/add", "", map[string]any{"amount": -1}, admin...); w.Code != http.StatusBadRequest {
		t.Fatalf("negative add: expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/admin/credits/u1/refund", "", map[string]any{"amount": 5, "task_id": "t1"}, admin...); w.Code != http.StatusOK {
		t.Fatalf("refund: expected 200, got %d", w.Code)
	}

	var p credit.Pool
	w = f.do(http.MethodGet, "/api/v1/credits", "u1", nil)
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Balance != 55 {
		t.Fatalf("balance = %d, want 55", p.Balance)
	}
}

func TestListTransactionsSince(t *testing.T) {
	f := newFixture()
	f.credits.pools["u1"] = &credit.Pool{UserID: "u1"}

	if w := f.do(http.MethodGet, "/api/v1/credits/transactions?since=yesterday", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w := f.do(http.MethodGet, "/api/v1/credits/transactions?since=2026-01-02T00:00:00Z", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !f.records.since.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since = %v", f.records.since)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

// --- health ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		broker  tghttp.Connectivity
		want    int
		status  string
	}{
		{"ok", nil, mockBroker{connected: true}, http.StatusOK, "ok"},
		{"no broker", nil, nil, http.StatusOK, "ok"},
		{"broker down", nil, mockBroker{}, http.StatusOK, "degraded"},
		{"store down", errors.New("dial tcp: refused"), mockBroker{connected: true}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.records.pingErr = tt.pingErr
			f.h.Broker = tt.broker

			w := f.do(http.MethodGet, "/health", "", nil)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			var body struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(w.Body).Decode(&body)
			if body.Status != tt.status {
				t.Fatalf("status = %q, want %q", body.Status, tt.status)
			}
		})
	}
}
