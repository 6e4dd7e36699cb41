package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/internal/repository"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// fakeClock is a manually advanced clock so tests control time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) Sleep(time.Duration) {}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// In-memory repositories matching the SQL repositories' semantics, including
// the optimistic version bump on update.

type memTemplates struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]domain.WorkflowTemplate
}

func newMemTemplates() *memTemplates {
	return &memTemplates{byID: map[int64]domain.WorkflowTemplate{}}
}

func (m *memTemplates) Save(t *domain.WorkflowTemplate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = m.seq
	m.byID[t.ID] = *t
	return t.ID, nil
}

func (m *memTemplates) FindByID(id int64) (*domain.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (m *memTemplates) FindLatestByName(name string) (*domain.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.WorkflowTemplate
	for id := range m.byID {
		t := m.byID[id]
		if t.Name == name && (latest == nil || t.Version > latest.Version) {
			latest = &t
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (m *memTemplates) FindAll() (*[]domain.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WorkflowTemplate, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, t)
	}
	return &out, nil
}

func (m *memTemplates) SetActive(id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Active = active
	m.byID[id] = t
	return nil
}

type memInstances struct {
	mu    sync.Mutex
	seq   int64
	byID  map[int64]domain.WorkflowInstance
	clock *fakeClock
}

func newMemInstances(clock *fakeClock) *memInstances {
	return &memInstances{byID: map[int64]domain.WorkflowInstance{}, clock: clock}
}

func (m *memInstances) Save(w *domain.WorkflowInstance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	w.ID = m.seq
	m.byID[w.ID] = *w
	return w.ID, nil
}

func (m *memInstances) FindByID(id int64) (*domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &w, nil
}

func (m *memInstances) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byID {
		w := m.byID[id]
		if w.ExternalID == externalID {
			return &w, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memInstances) Update(w *domain.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[w.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != w.Version {
		return domain.ErrConcurrentModification
	}
	w.Version++
	w.Modified = m.clock.Now().UTC()
	m.byID[w.ID] = *w
	return nil
}

func (m *memInstances) FindDue(size int) (*[]domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().UTC()
	out := make([]domain.WorkflowInstance, 0)
	for id := range m.byID {
		w := m.byID[id]
		if len(out) >= size {
			break
		}
		if (w.Status == domain.StatusPending || w.Status == domain.StatusRunning) &&
			w.NextActivation.Valid && !w.NextActivation.Time.After(now) && !w.ExecutorID.Valid {
			out = append(out, w)
		}
	}
	return &out, nil
}

func (m *memInstances) ClaimForExecution(id int64, executorID int64, version int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[id]
	if !ok || w.Version != version || w.ExecutorID.Valid {
		return false
	}
	w.ExecutorID.Int64 = executorID
	w.ExecutorID.Valid = true
	m.byID[id] = w
	return true
}

func (m *memInstances) ClearExecutor(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.ExecutorID.Valid = false
	w.ExecutorID.Int64 = 0
	m.byID[id] = w
	return nil
}

func (m *memInstances) FindStuck(string, int) (*[]domain.WorkflowInstance, error) {
	out := []domain.WorkflowInstance{}
	return &out, nil
}

func (m *memInstances) Search(req models.SearchInstancesRequest) (*[]domain.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WorkflowInstance, 0)
	for id := range m.byID {
		w := m.byID[id]
		if req.TemplateID != 0 && w.TemplateID != req.TemplateID {
			continue
		}
		if req.Status != "" && string(w.Status) != req.Status {
			continue
		}
		if req.ExternalID != "" && w.ExternalID != req.ExternalID {
			continue
		}
		out = append(out, w)
	}
	return &out, nil
}

func (m *memInstances) GetInstanceOverview() ([]repository.InstanceOverviewRow, error) {
	return nil, nil
}

func (m *memInstances) GetTemplateStats() ([]repository.TemplateStatsRow, error) {
	return nil, nil
}

type memSteps struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]domain.StepExecution
}

func newMemSteps() *memSteps {
	return &memSteps{byID: map[int64]domain.StepExecution{}}
}

func (m *memSteps) Save(e *domain.StepExecution) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.InstanceID == e.InstanceID && s.StepID == e.StepID && s.Attempt == e.Attempt {
			return 0, fmt.Errorf("duplicate attempt %d for step %s", e.Attempt, e.StepID)
		}
	}
	m.seq++
	e.ID = m.seq
	m.byID[e.ID] = *e
	return e.ID, nil
}

func (m *memSteps) Update(e *domain.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[e.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[e.ID] = *e
	return nil
}

func (m *memSteps) Find(instanceID int64, stepID string, attempt int) (*domain.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byID {
		e := m.byID[id]
		if e.InstanceID == instanceID && e.StepID == stepID && e.Attempt == attempt {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSteps) FindLatest(instanceID int64, stepID string) (*domain.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.StepExecution
	for id := range m.byID {
		e := m.byID[id]
		if e.InstanceID == instanceID && e.StepID == stepID && (latest == nil || e.Attempt > latest.Attempt) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (m *memSteps) FindByInstance(instanceID int64) (*[]domain.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StepExecution, 0)
	for id := range m.byID {
		e := m.byID[id]
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return &out, nil
}

type memChains struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]domain.ApprovalChain
}

func newMemChains() *memChains {
	return &memChains{byID: map[int64]domain.ApprovalChain{}}
}

func (m *memChains) Save(c *domain.ApprovalChain) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.ID = m.seq
	m.byID[c.ID] = cloneChain(c)
	return c.ID, nil
}

func (m *memChains) Update(c *domain.ApprovalChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != c.Version {
		return domain.ErrConcurrentModification
	}
	c.Version++
	m.byID[c.ID] = cloneChain(c)
	return nil
}

func (m *memChains) FindByID(id int64) (*domain.ApprovalChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneChain(&c)
	return &out, nil
}

func (m *memChains) FindOpenByInstanceStep(instanceID int64, stepID string) (*domain.ApprovalChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byID {
		c := m.byID[id]
		if c.InstanceID == instanceID && c.StepID == stepID && c.Status == domain.ChainPending {
			out := cloneChain(&c)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memChains) FindPending(limit int) (*[]domain.ApprovalChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ApprovalChain, 0)
	for id := range m.byID {
		c := m.byID[id]
		if c.Status == domain.ChainPending && len(out) < limit {
			out = append(out, cloneChain(&c))
		}
	}
	return &out, nil
}

func cloneChain(c *domain.ApprovalChain) domain.ApprovalChain {
	out := *c
	out.Approvers = make([]domain.Approver, len(c.Approvers))
	copy(out.Approvers, c.Approvers)
	return out
}

type memTriggers struct {
	mu    sync.Mutex
	seq   int64
	byID  map[int64]domain.WorkflowTrigger
	clock *fakeClock
}

func newMemTriggers(clock *fakeClock) *memTriggers {
	return &memTriggers{byID: map[int64]domain.WorkflowTrigger{}, clock: clock}
}

func (m *memTriggers) Save(t *domain.WorkflowTrigger) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = m.seq
	m.byID[t.ID] = *t
	return t.ID, nil
}

func (m *memTriggers) FindByID(id int64) (*domain.WorkflowTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (m *memTriggers) FindEnabledByEvent(eventKey string) (*[]domain.WorkflowTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WorkflowTrigger, 0)
	for id := range m.byID {
		t := m.byID[id]
		if t.Enabled && t.EventKey == eventKey {
			out = append(out, t)
		}
	}
	return &out, nil
}

func (m *memTriggers) MarkFired(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.FireCount++
	t.LastFired.Time = m.clock.Now().UTC()
	t.LastFired.Valid = true
	m.byID[id] = t
	return nil
}

func (m *memTriggers) MarkError(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.ErrorCount++
	m.byID[id] = t
	return nil
}

func (m *memTriggers) SetEnabled(id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Enabled = enabled
	m.byID[id] = t
	return nil
}

type memSchedules struct {
	mu    sync.Mutex
	seq   int64
	byID  map[int64]domain.WorkflowSchedule
	clock *fakeClock
}

func newMemSchedules(clock *fakeClock) *memSchedules {
	return &memSchedules{byID: map[int64]domain.WorkflowSchedule{}, clock: clock}
}

func (m *memSchedules) Save(s *domain.WorkflowSchedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s.ID = m.seq
	m.byID[s.ID] = *s
	return s.ID, nil
}

func (m *memSchedules) Update(s *domain.WorkflowSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != s.Version {
		return domain.ErrConcurrentModification
	}
	s.Version++
	m.byID[s.ID] = *s
	return nil
}

func (m *memSchedules) FindByID(id int64) (*domain.WorkflowSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memSchedules) FindDue(limit int) (*[]domain.WorkflowSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().UTC()
	out := make([]domain.WorkflowSchedule, 0)
	for id := range m.byID {
		s := m.byID[id]
		if s.Enabled && s.NextRun.Valid && !s.NextRun.Time.After(now) && len(out) < limit {
			out = append(out, s)
		}
	}
	return &out, nil
}

type memRollbacks struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]domain.WorkflowRollback
}

func newMemRollbacks() *memRollbacks {
	return &memRollbacks{byID: map[int64]domain.WorkflowRollback{}}
}

func (m *memRollbacks) Save(rb *domain.WorkflowRollback) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	rb.ID = m.seq
	m.byID[rb.ID] = *rb
	return rb.ID, nil
}

func (m *memRollbacks) Update(rb *domain.WorkflowRollback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rb.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[rb.ID] = *rb
	return nil
}

func (m *memRollbacks) FindByInstance(instanceID int64) (*domain.WorkflowRollback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.WorkflowRollback
	for id := range m.byID {
		rb := m.byID[id]
		if rb.InstanceID == instanceID && (latest == nil || rb.ID > latest.ID) {
			latest = &rb
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

type memEvents struct {
	mu      sync.Mutex
	seq     int64
	entries []domain.EventLogEntry
}

func newMemEvents() *memEvents {
	return &memEvents{}
}

func (m *memEvents) Append(e *domain.EventLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.ID = m.seq
	m.entries = append(m.entries, *e)
	return e.ID, nil
}

func (m *memEvents) FindByInstance(instanceID int64) (*[]domain.EventLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventLogEntry, 0)
	for _, e := range m.entries {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return &out, nil
}

func (m *memEvents) typesFor(instanceID int64) []domain.EventType {
	entries, _ := m.FindByInstance(instanceID)
	out := make([]domain.EventType, 0, len(*entries))
	for _, e := range *entries {
		out = append(out, e.Type)
	}
	return out
}

// fakeDispatcher records calls and delegates to CallFunc when set.
type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []string
	CallFunc func(action string, payload map[string]any) (map[string]any, error)
}

func (d *fakeDispatcher) Call(_ context.Context, action string, payload map[string]any, _ time.Duration) (map[string]any, error) {
	d.mu.Lock()
	d.calls = append(d.calls, action)
	d.mu.Unlock()
	if d.CallFunc != nil {
		return d.CallFunc(action, payload)
	}
	return map[string]any{}, nil
}

func (d *fakeDispatcher) actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ []string, subject string, _ map[string]any) error {
	n.mu.Lock()
	n.subjects = append(n.subjects, subject)
	n.mu.Unlock()
	return nil
}

// fixture wires an engine against the in-memory repositories.
type fixture struct {
	clock      *fakeClock
	templates  *memTemplates
	instances  *memInstances
	steps      *memSteps
	chains     *memChains
	triggers   *memTriggers
	schedules  *memSchedules
	rollbacks  *memRollbacks
	events     *memEvents
	dispatcher *fakeDispatcher
	notifier   *fakeNotifier
	engine     *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:      clock,
		templates:  newMemTemplates(),
		instances:  newMemInstances(clock),
		steps:      newMemSteps(),
		chains:     newMemChains(),
		triggers:   newMemTriggers(clock),
		schedules:  newMemSchedules(clock),
		rollbacks:  newMemRollbacks(),
		events:     newMemEvents(),
		dispatcher: &fakeDispatcher{},
		notifier:   &fakeNotifier{},
	}
	f.engine = NewEngine(Deps{
		Templates:         f.templates,
		Instances:         f.instances,
		Steps:             f.steps,
		Chains:            f.chains,
		Triggers:          f.triggers,
		Schedules:         f.schedules,
		Rollbacks:         f.rollbacks,
		Recorder:          NewRecorder(f.events, clock),
		Dispatcher:        f.dispatcher,
		Notifier:          f.notifier,
		Clock:             clock,
		DefaultTimeout:    30 * time.Second,
		DefaultRetryDelay: 10 * time.Second,
	})
	return f
}

// drive claims due instances and runs them until nothing is due, mimicking
// one executor's poll loop.
func (f *fixture) drive(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		due, err := f.instances.FindDue(10)
		if err != nil {
			t.Fatalf("FindDue: %v", err)
		}
		if len(*due) == 0 {
			return
		}
		for _, inst := range *due {
			if !f.instances.ClaimForExecution(inst.ID, 1, inst.Version) {
				continue
			}
			claimed, err := f.instances.FindByID(inst.ID)
			if err != nil {
				t.Fatalf("FindByID: %v", err)
			}
			f.engine.RunInstance(context.Background(), claimed)
		}
	}
	t.Fatal("drive did not reach quiescence")
}

// seedTemplate stores a template directly, bypassing Publish validation.
func (f *fixture) seedTemplate(t *testing.T, tmpl domain.WorkflowTemplate) *domain.WorkflowTemplate {
	t.Helper()
	tmpl.Active = true
	if tmpl.EntryStepID == "" && len(tmpl.Steps) > 0 {
		tmpl.EntryStepID = tmpl.Steps[0].ID
	}
	if tmpl.Version == 0 {
		tmpl.Version = 1
	}
	if _, err := f.templates.Save(&tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return &tmpl
}

func (f *fixture) mustInstance(t *testing.T, id int64) *domain.WorkflowInstance {
	t.Helper()
	inst, err := f.instances.FindByID(id)
	if err != nil {
		t.Fatalf("instance %d: %v", id, err)
	}
	return inst
}
