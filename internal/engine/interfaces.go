package engine

import (
	"time"

	"github.com/flowgrid/flowgrid/internal/repository"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// TemplateRepo defines the interface for template persistence, matching repository.TemplateRepository.
type TemplateRepo interface {
	Save(t *domain.WorkflowTemplate) (int64, error)
	FindByID(id int64) (*domain.WorkflowTemplate, error)
	FindLatestByName(name string) (*domain.WorkflowTemplate, error)
	FindAll() (*[]domain.WorkflowTemplate, error)
	SetActive(id int64, active bool) error
}

// InstanceRepo defines the interface for instance persistence.
type InstanceRepo interface {
	Save(w *domain.WorkflowInstance) (int64, error)
	FindByID(id int64) (*domain.WorkflowInstance, error)
	FindByExternalID(externalID string) (*domain.WorkflowInstance, error)
	Update(w *domain.WorkflowInstance) error
	FindDue(size int) (*[]domain.WorkflowInstance, error)
	ClaimForExecution(id int64, executorID int64, version int64) bool
	ClearExecutor(id int64) error
	FindStuck(minutes string, limit int) (*[]domain.WorkflowInstance, error)
	Search(req models.SearchInstancesRequest) (*[]domain.WorkflowInstance, error)
	GetInstanceOverview() ([]repository.InstanceOverviewRow, error)
	GetTemplateStats() ([]repository.TemplateStatsRow, error)
}

// StepExecutionRepo defines the interface for step attempt persistence.
type StepExecutionRepo interface {
	Save(e *domain.StepExecution) (int64, error)
	Update(e *domain.StepExecution) error
	Find(instanceID int64, stepID string, attempt int) (*domain.StepExecution, error)
	FindLatest(instanceID int64, stepID string) (*domain.StepExecution, error)
	FindByInstance(instanceID int64) (*[]domain.StepExecution, error)
}

// ApprovalRepo defines the interface for approval chain persistence.
type ApprovalRepo interface {
	Save(c *domain.ApprovalChain) (int64, error)
	Update(c *domain.ApprovalChain) error
	FindByID(id int64) (*domain.ApprovalChain, error)
	FindOpenByInstanceStep(instanceID int64, stepID string) (*domain.ApprovalChain, error)
	FindPending(limit int) (*[]domain.ApprovalChain, error)
}

// TriggerRepo defines the interface for trigger persistence.
type TriggerRepo interface {
	Save(t *domain.WorkflowTrigger) (int64, error)
	FindByID(id int64) (*domain.WorkflowTrigger, error)
	FindEnabledByEvent(eventKey string) (*[]domain.WorkflowTrigger, error)
	MarkFired(id int64) error
	MarkError(id int64) error
	SetEnabled(id int64, enabled bool) error
}

// ScheduleRepo defines the interface for schedule persistence.
type ScheduleRepo interface {
	Save(s *domain.WorkflowSchedule) (int64, error)
	Update(s *domain.WorkflowSchedule) error
	FindByID(id int64) (*domain.WorkflowSchedule, error)
	FindDue(limit int) (*[]domain.WorkflowSchedule, error)
}

// RollbackRepo defines the interface for rollback record persistence.
type RollbackRepo interface {
	Save(rb *domain.WorkflowRollback) (int64, error)
	Update(rb *domain.WorkflowRollback) error
	FindByInstance(instanceID int64) (*domain.WorkflowRollback, error)
}

// EventRepo defines the interface for the append-only event log.
type EventRepo interface {
	Append(e *domain.EventLogEntry) (int64, error)
	FindByInstance(instanceID int64) (*[]domain.EventLogEntry, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	FindActiveSince(cutoff time.Time) ([]*domain.Executor, error)
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	FindByUsername(username string) (*domain.User, error)
	FindById(id int64) (*domain.User, error)
	FindAll() (*[]domain.User, error)
	Save(user *domain.User) (int64, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
}
