// Package bus provides typed pub/sub for epic task distribution.
//
// The default implementation is in-process and channel-backed; the Bus
// interface is small enough to back with a distributed broker. The bus
// is the sole arbiter of task state transitions: claims and completions
// are serialized through optimistic version checks.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// Bus errors.
var (
	// ErrOverflow indicates a bounded buffer refused a publish under the
	// drop policy.
	ErrOverflow = errors.New("bus: bounded buffer full")

	// ErrTaskNotFound indicates the task id is unknown to the bus.
	ErrTaskNotFound = errors.New("bus: task not found")

	// ErrTaskConflict indicates a task transition lost an optimistic
	// version check.
	ErrTaskConflict = errors.New("bus: task version conflict")
)

// OverflowPolicy controls publisher behavior when a subscriber buffer
// is full.
type OverflowPolicy int

const (
	// OverflowBlock blocks the publisher until space frees or the
	// context is cancelled. Default.
	OverflowBlock OverflowPolicy = iota

	// OverflowDropOldest evicts the oldest buffered message.
	OverflowDropOldest
)

// Well-known topics.
const (
	TopicTasks     = "epic.tasks"
	TopicSummaries = "epic.summaries"
)

// Envelope wraps a published payload with its topic and publish time.
type Envelope struct {
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Bus is the coordination interface consumed by the epic orchestrator
// and its workers.
type Bus interface {
	// Publish delivers the payload to every subscriber of the topic.
	// Behavior on a full subscriber buffer follows the configured
	// overflow policy.
	Publish(ctx context.Context, topic string, payload any) error

	// Subscribe returns a channel of messages for the topic, in per-topic
	// FIFO order, plus a cancel function that releases the subscription.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, func())

	// PublishTask registers a task as pending and claimable.
	PublishTask(ctx context.Context, task *models.EpicTask) error

	// RequestTask atomically claims the highest-priority pending task
	// matching allowedTypes (priority descending, then age ascending)
	// whose dependencies have all completed, moving it to in_progress
	// under workerID. Returns nil when no task is claimable.
	RequestTask(ctx context.Context, workerID string, allowedTypes []string) (*models.EpicTask, error)

	// CompleteTask transitions a claimed task to completed with a
	// version check against the claim.
	CompleteTask(ctx context.Context, taskID string, summary string) error

	// FailTask transitions a claimed task to failed with a version check
	// against the claim.
	FailTask(ctx context.Context, taskID string, errMsg string) error

	// PendingTasks returns tasks currently claimable or blocked, for a run.
	PendingTasks(ctx context.Context, runID string) ([]*models.EpicTask, error)

	// Clear drops buffered messages on a topic. Clearing TopicTasks also
	// discards all unclaimed tasks (used by FRESH_START).
	Clear(ctx context.Context, topic string) error
}
