package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/middleware"
	"github.com/Strob0t/toolgate/internal/service"
)

// EventQueue accepts events for trigger processing.
type EventQueue interface {
	Enqueue(ctx context.Context, ev *event.Event) (*event.Event, error)
}

// ToolRegistry is the tool catalogue.
type ToolRegistry interface {
	List() []tool.Definition
	Get(ctx context.Context, name string) (*tool.Definition, error)
	Register(ctx context.Context, d *tool.Definition) error
	Unregister(ctx context.Context, name string) error
}

// Executor runs a tool on behalf of a caller.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error)
}

// Credits manages credit pools.
type Credits interface {
	Pool(ctx context.Context, userID string) (*credit.Pool, error)
	HasPool(ctx context.Context, userID string) (bool, error)
	OpenPool(ctx context.Context, userID, currency string, limits credit.SpendingLimits) (*credit.Pool, error)
	UpdatePool(ctx context.Context, userID string, u service.PoolUpdate) (*credit.Pool, error)
	Add(ctx context.Context, userID string, amount int64, c service.Charge) (*credit.Transaction, error)
	Refund(ctx context.Context, userID string, amount int64, c service.Charge) (*credit.Transaction, error)
}

// Records reads stored events, tasks and ledger entries.
type Records interface {
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByEvent(ctx context.Context, eventID string) ([]task.Task, error)
	ListCreditTransactions(ctx context.Context, userID string, since time.Time) ([]credit.Transaction, error)
	Ping(ctx context.Context) error
}

// Connectivity reports whether the message broker link is up.
type Connectivity interface {
	IsConnected() bool
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Events   EventQueue
	Tools    ToolRegistry
	Executor Executor
	Credits  Credits
	Records  Records
	Broker   Connectivity // nil when running without NATS
	Version  string
}

// visibleTo reports whether a record owned by owner may be shown to caller.
// Records without an owner are public.
func visibleTo(owner, caller string) bool {
	return owner == "" || owner == caller
}

// --- Events ---

type enqueueRequest struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

func (req *enqueueRequest) event() *event.Event {
	return &event.Event{
		ID:        req.ID,
		Type:      req.Type,
		UserID:    req.UserID,
		Data:      req.Data,
		Metadata:  req.Metadata,
		Timestamp: req.Timestamp,
	}
}

// EnqueueEvent handles POST /api/v1/events. The event is attributed to the
// caller; naming another user is forbidden.
func (h *Handlers) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[enqueueRequest](w, r)
	if !ok {
		return
	}
	caller := middleware.UserID(r.Context())
	if req.UserID != "" && req.UserID != caller {
		writeError(w, http.StatusForbidden, "user_id does not match caller")
		return
	}
	req.UserID = caller
	h.enqueue(w, r, &req)
}

// IngestSignedEvent handles POST /api/v1/hooks/events. The body signature
// has already been verified, so the user_id it names is trusted.
func (h *Handlers) IngestSignedEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[enqueueRequest](w, r)
	if !ok {
		return
	}
	if req.UserID != "" && !middleware.ValidUserID(req.UserID) {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	h.enqueue(w, r, &req)
}

func (h *Handlers) enqueue(w http.ResponseWriter, r *http.Request, req *enqueueRequest) {
	if !requireField(w, req.Type, "type") {
		return
	}
	ev, err := h.Events.Enqueue(r.Context(), req.event())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

// GetEvent handles GET /api/v1/events/{id}.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.visibleEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListEventTasks handles GET /api/v1/events/{id}/tasks.
func (h *Handlers) ListEventTasks(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.visibleEvent(w, r); !ok {
		return
	}
	handleListByParam("id", h.Records.ListTasksByEvent)(w, r)
}

// visibleEvent loads the {id} event and writes 404 when the caller may not
// see it.
func (h *Handlers) visibleEvent(w http.ResponseWriter, r *http.Request) (*event.Event, bool) {
	ev, err := h.Records.GetEvent(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "")
		return nil, false
	}
	if !visibleTo(ev.UserID, middleware.UserID(r.Context())) {
		writeError(w, http.StatusNotFound, "event not found")
		return nil, false
	}
	return ev, true
}

// --- Tasks ---

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Records.GetTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if !visibleTo(t.UserID, middleware.UserID(r.Context())) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Tools ---

// toolView is a definition annotated with the caller's availability.
type toolView struct {
	tool.Definition
	Available   bool        `json:"available"`
	Unavailable tool.Reason `json:"unavailable_reason,omitempty"`
}

// ListTools handles GET /api/v1/tools. ?available=true hides tools the
// caller cannot invoke.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	cc := middleware.CallContext(r.Context())
	onlyAvailable := r.URL.Query().Get("available") == "true"

	defs := h.Tools.List()
	for i := range defs {
		if defs[i].RequiresPayment {
			attached, err := h.Credits.HasPool(r.Context(), cc.UserID)
			if err != nil {
				writeDomainError(w, err, "")
				return
			}
			cc.BudgetAttached = attached
			break
		}
	}

	out := make([]toolView, 0, len(defs))
	for i := range defs {
		reason := defs[i].Availability(cc)
		if onlyAvailable && reason != tool.ReasonNone {
			continue
		}
		out = append(out, toolView{Definition: defs[i], Available: reason == tool.ReasonNone, Unavailable: reason})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTool handles GET /api/v1/tools/{name}.
func (h *Handlers) GetTool(w http.ResponseWriter, r *http.Request) {
	handleGet("name", h.Tools.Get)(w, r)
}

// RegisterTool handles POST /api/v1/admin/tools. An existing definition
// with the same name is replaced.
func (h *Handlers) RegisterTool(w http.ResponseWriter, r *http.Request) {
	def, ok := readJSON[tool.Definition](w, r)
	if !ok {
		return
	}
	if !requireField(w, def.Name, "name") {
		return
	}
	if err := h.Tools.Register(r.Context(), &def); err != nil {
		writeDomainError(w, err, "")
		return
	}
	stored, err := h.Tools.Get(r.Context(), def.Name)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// UnregisterTool handles DELETE /api/v1/admin/tools/{name}.
func (h *Handlers) UnregisterTool(w http.ResponseWriter, r *http.Request) {
	handleDelete("name", h.Tools.Unregister)(w, r)
}

type executeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// ExecuteTool handles POST /api/v1/tools/{name}/execute. Failures after
// the task was created report its id alongside the error.
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[executeRequest](w, r)
	if !ok {
		return
	}
	name := urlParam(r, "name")
	def, err := h.Tools.Get(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	cc := middleware.CallContext(r.Context())
	args := def.Schema.CallArgs(req.Arguments, cc.UserID)

	t, err := h.Executor.Execute(r.Context(), name, args, cc)
	if err != nil {
		taskID := ""
		if t != nil {
			taskID = t.ID
		}
		writeDomainError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Health ---

type healthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Postgres string `json:"postgres"`
	NATS     string `json:"nats"`
}

// Health handles GET /health. A failing store makes the service
// unavailable; a disconnected broker only degrades it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{Status: "ok", Version: h.Version, Postgres: "ok", NATS: "disabled"}
	code := http.StatusOK
	if err := h.Records.Ping(ctx); err != nil {
		st.Status, st.Postgres = "unavailable", err.Error()
		code = http.StatusServiceUnavailable
	}
	if h.Broker != nil {
		st.NATS = "connected"
		if !h.Broker.IsConnected() {
			st.NATS = "disconnected"
			if code == http.StatusOK {
				st.Status = "degraded"
			}
		}
	}
	writeJSON(w, code, st)
}
