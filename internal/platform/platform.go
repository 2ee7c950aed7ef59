package platform

import (
	"context"
)

// TaskStatus is the platform-reported state of a bot's underlying
// container/task, normalized across platforms.
type TaskStatus string

const (
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusStopped TaskStatus = "STOPPED"
	TaskStatusFailed  TaskStatus = "FAILED"
	TaskStatusUnknown TaskStatus = "UNKNOWN"
)

// Application is one entry in a platform's application listing.
type Application struct {
	UUID string
	Name string
}

// Client is the capability surface the recovery core needs from a
// container platform. Implementations are best-effort: callers treat
// every method as an at-least-once side effect.
type Client interface {
	Name() string
	// ReleaseBot tears down whatever resource the platform holds for the
	// bot, addressed by bot id rather than resource handle.
	ReleaseBot(ctx context.Context, botID int) error
	// StopBot stops the resource behind an opaque platform identifier
	// (Job name, task ARN, application UUID).
	StopBot(ctx context.Context, resourceID string) error
	GetBotStatus(ctx context.Context, resourceID string) (TaskStatus, error)
}

// JobInfo is the existence-check result for a Kubernetes Job.
type JobInfo struct {
	Name   string
	Active bool
}

// JobClient adds the Job existence check Kubernetes recovery depends on.
type JobClient interface {
	Client
	GetJob(ctx context.Context, name string) (*JobInfo, error)
	DeleteJob(ctx context.Context, name string) error
}

// PoolClient adds the application-pool operations Coolify recovery and
// the slot sync depend on.
type PoolClient interface {
	Client
	ListPoolApplications(ctx context.Context) ([]Application, error)
	StopApplication(ctx context.Context, uuid string) error
	DeleteApplication(ctx context.Context, uuid string) error
	UpdateDescription(ctx context.Context, uuid string, description string) error
}
