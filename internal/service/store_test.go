package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/database"
)

var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu     sync.Mutex
	events map[string]*event.Event
	order  []string
	tasks  map[string]*task.Task
	tools  map[string]*tool.Definition
	pools  map[string]*credit.Pool

	// Error hooks: set these to inject failures.
	createEventErr  error
	appendRecordErr error
	markErr         error
	createTaskErr   error
	listToolsErr    error
	applyTxnErr     error

	// conflictOnce makes the next ApplyCreditTransaction return ErrConflict.
	conflictOnce bool

	listToolsCalls int
	finishCalls    int
	listTxnCalls   int
}

func newMockStore() *mockStore {
	return &mockStore{
		events: make(map[string]*event.Event),
		tasks:  make(map[string]*task.Task),
		tools:  make(map[string]*tool.Definition),
		pools:  make(map[string]*credit.Pool),
	}
}

func copyEvent(e *event.Event) *event.Event {
	c := *e
	c.ExecutionLog = append([]event.ExecutionRecord(nil), e.ExecutionLog...)
	return &c
}

func (m *mockStore) CreateEvent(_ context.Context, e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createEventErr != nil {
		return m.createEventErr
	}
	if _, ok := m.events[e.ID]; ok {
		return domain.ErrConflict
	}
	m.events[e.ID] = copyEvent(e)
	m.order = append(m.order, e.ID)
	return nil
}

func (m *mockStore) GetEvent(_ context.Context, id string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyEvent(e), nil
}

func (m *mockStore) AppendExecutionRecord(_ context.Context, eventID string, rec event.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendRecordErr != nil {
		return m.appendRecordErr
	}
	e, ok := m.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.ExecutionLog = append(e.ExecutionLog, rec)
	return nil
}

func (m *mockStore) MarkEventProcessed(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	e, ok := m.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Processed = true
	return nil
}

func (m *mockStore) ListUnprocessedEvents(_ context.Context, limit int) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, id := range m.order {
		if e := m.events[id]; !e.Processed {
			out = append(out, *copyEvent(e))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createTaskErr != nil {
		return m.createTaskErr
	}
	c := *t
	m.tasks[t.ID] = &c
	return nil
}

func (m *mockStore) FinishTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishCalls++
	cur, ok := m.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != task.StatusProcessing {
		return domain.ErrConflict
	}
	c := *t
	m.tasks[t.ID] = &c
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *mockStore) ListTasksByEvent(_ context.Context, eventID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.EventID == eventID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) taskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *mockStore) ListTools(_ context.Context) ([]tool.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listToolsCalls++
	if m.listToolsErr != nil {
		return nil, m.listToolsErr
	}
	out := make([]tool.Definition, 0, len(m.tools))
	for _, d := range m.tools {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStore) GetTool(_ context.Context, name string) (*tool.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.tools[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *mockStore) UpsertTool(_ context.Context, d *tool.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	if prev, ok := m.tools[d.Name]; ok {
		c.Meta = prev.Meta
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
	}
	m.tools[d.Name] = &c
	return nil
}

func (m *mockStore) DeleteTool(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tools, name)
	return nil
}

func (m *mockStore) RecordToolOutcome(_ context.Context, name string, success bool) (tool.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.tools[name]
	if !ok {
		return tool.Meta{}, domain.ErrNotFound
	}
	d.Meta.Record(success)
	return d.Meta, nil
}

func copyPool(p *credit.Pool) *credit.Pool {
	c := *p
	c.Transactions = append([]credit.Transaction(nil), p.Transactions...)
	return &c
}

func (m *mockStore) GetCreditPool(_ context.Context, userID string) (*credit.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPool(p), nil
}

func (m *mockStore) CreateCreditPool(_ context.Context, p *credit.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.UserID]; ok {
		return domain.ErrConflict
	}
	m.pools[p.UserID] = copyPool(p)
	return nil
}

func (m *mockStore) UpdateCreditPoolSettings(_ context.Context, userID string, expectedVersion int, s credit.Settings, active, verified bool) (*credit.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	p.Settings, p.IsActive, p.IsVerified = s, active, verified
	p.Version++
	return copyPool(p), nil
}

func (m *mockStore) ListCreditTransactions(_ context.Context, userID string, since time.Time) ([]credit.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listTxnCalls++
	p, ok := m.pools[userID]
	if !ok {
		return nil, nil
	}
	var out []credit.Transaction
	for _, t := range p.Transactions {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) ApplyCreditTransaction(_ context.Context, userID string, expectedVersion int, txn credit.Transaction) (*credit.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyTxnErr != nil {
		return nil, m.applyTxnErr
	}
	if m.conflictOnce {
		m.conflictOnce = false
		return nil, domain.ErrConflict
	}
	p, ok := m.pools[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	if err := p.Apply(txn, txn.CreatedAt); err != nil {
		return nil, err
	}
	return copyPool(p), nil
}

func (m *mockStore) LedgerBalance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return credit.LedgerBalance(p.Transactions), nil
}

func (m *mockStore) SetCreditBalance(_ context.Context, userID string, expectedVersion int, balance int64) (*credit.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	p.Balance = balance
	p.Version++
	return copyPool(p), nil
}

func (m *mockStore) ListCreditPoolUsers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pools))
	for id := range m.pools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

// seedPool stores an active, verified pool funded by one credit entry.
func (m *mockStore) seedPool(userID string, balance int64, limits credit.SpendingLimits, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &credit.Pool{
		ID:         "pool-" + userID,
		UserID:     userID,
		Currency:   "USD",
		IsActive:   true,
		IsVerified: true,
		Settings:   credit.Settings{SpendingLimits: limits},
		Version:    1,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if balance > 0 {
		_ = p.Apply(credit.Transaction{
			ID:        "seed-" + userID,
			Type:      credit.TxCredit,
			Amount:    balance,
			Status:    credit.TxCompleted,
			CreatedAt: at,
		}, at)
	}
	m.pools[userID] = p
}

func (m *mockStore) pool(userID string) *credit.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPool(m.pools[userID])
}
