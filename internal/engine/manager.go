package engine

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/config"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// Manager owns the polling side of the engine: it registers this process as
// an executor, heartbeats, pulls due instances from the database, claims them
// and feeds them to the worker pool. It also runs the repair and escalation
// sweeps.
type Manager struct {
	engine    *Engine
	instances InstanceRepo
	executors ExecutorRepo
	clock     core.Clock

	executorID int64
	queue      chan domain.WorkflowInstance
	wakeup     chan struct{}
}

func NewManager(engine *Engine, instances InstanceRepo, executors ExecutorRepo, clock core.Clock) *Manager {
	m := &Manager{
		engine:    engine,
		instances: instances,
		executors: executors,
		clock:     clock,
		wakeup:    make(chan struct{}, 1),
	}
	engine.SetWakeup(m.Wakeup)
	return m
}

// Wakeup nudges the poll loop without waiting for the next tick. Safe to call
// from any goroutine; a pending nudge is coalesced.
func (m *Manager) Wakeup() {
	select {
	case m.wakeup <- struct{}{}:
	default:
	}
}

// StartEngine registers the executor and runs the poll loop until the context
// is cancelled. Heartbeat, repair and escalation sweeps run on their own
// goroutines.
func (m *Manager) StartEngine(ctx context.Context) error {
	name := config.GetSystemSettingString(config.ENGINE_EXECUTOR_NAME)
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "executor"
		}
		name = host + "-" + uuid.NewString()[:8]
	}

	executor := &domain.Executor{Name: name, Started: m.clock.Now().UTC(), LastActive: m.clock.Now().UTC()}
	id, err := m.executors.Save(executor)
	if err != nil {
		return err
	}
	m.executorID = id
	slog.Info("Executor registered", "executor_id", id, "name", name)

	workerCount := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	m.queue = make(chan domain.WorkflowInstance, workerCount*2)
	for i := 0; i < workerCount; i++ {
		go m.worker(ctx, i)
	}

	go m.heartbeat(ctx)
	go m.repairLoop(ctx)
	go m.escalationLoop(ctx)

	pollInterval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	if err != nil {
		pollInterval = 3 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	slog.Info("Engine started", "workers", workerCount, "poll_interval", pollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopped")
			return nil
		case <-ticker.C:
			m.pollAndDispatch()
		case <-m.wakeup:
			m.pollAndDispatch()
		}
	}
}

// pollAndDispatch claims a batch of due instances and queues them for the
// workers. A lost claim means another executor got there first.
func (m *Manager) pollAndDispatch() {
	batchSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	due, err := m.instances.FindDue(batchSize)
	if err != nil {
		slog.Error("Failed to find due instances", "error", err)
		return
	}
	for _, inst := range *due {
		if !m.instances.ClaimForExecution(inst.ID, m.executorID, inst.Version) {
			continue
		}
		claimed, err := m.instances.FindByID(inst.ID)
		if err != nil {
			slog.Error("Failed to reload claimed instance", "instance_id", inst.ID, "error", err)
			continue
		}
		m.queue <- *claimed
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	logger := slog.With("worker", id)
	logger.Debug("Worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopped")
			return
		case inst := <-m.queue:
			m.engine.RunInstance(ctx, &inst)
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.executors.UpdateLastActive(m.executorID, m.clock.Now().UTC()); err != nil {
				slog.Error("Heartbeat failed", "executor_id", m.executorID, "error", err)
			}
		}
	}
}

// repairLoop frees instances held by executors that stopped heartbeating, so
// a crashed process cannot strand its claimed work.
func (m *Manager) repairLoop(ctx context.Context) {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_REPAIR_INTERVAL))
	if err != nil {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.repairStuck()
		}
	}
}

func (m *Manager) repairStuck() {
	afterMinutes := config.GetSystemSettingString(config.ENGINE_REPAIR_AFTER_MINUTES)
	stuck, err := m.instances.FindStuck(afterMinutes, 50)
	if err != nil {
		slog.Error("Repair sweep failed", "error", err)
		return
	}
	if len(*stuck) == 0 {
		return
	}

	minutes, err := strconv.Atoi(afterMinutes)
	if err != nil {
		minutes = 5
	}
	cutoff := m.clock.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	alive, err := m.executors.FindActiveSince(cutoff)
	if err != nil {
		slog.Error("Repair sweep failed to list executors", "error", err)
		return
	}
	aliveIDs := make(map[int64]bool, len(alive))
	for _, ex := range alive {
		aliveIDs[ex.ID] = true
	}

	for _, inst := range *stuck {
		if inst.ExecutorID.Valid && aliveIDs[inst.ExecutorID.Int64] {
			// Holder is still heartbeating; the step is just long-running.
			continue
		}
		slog.Warn("Releasing stuck instance", "instance_id", inst.ID, "executor_id", inst.ExecutorID.Int64)
		if err := m.instances.ClearExecutor(inst.ID); err != nil {
			slog.Error("Failed to release stuck instance", "instance_id", inst.ID, "error", err)
		}
	}
	m.Wakeup()
}

func (m *Manager) escalationLoop(ctx context.Context) {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_ESCALATION_INTERVAL))
	if err != nil {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.engine.SweepEscalations(ctx, 100)
		}
	}
}
