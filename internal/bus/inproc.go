package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skalene/maestro/pkg/models"
)

// DefaultBufferSize is the per-subscriber bounded buffer size.
const DefaultBufferSize = 64

// Config configures the in-process bus.
type Config struct {
	// BufferSize is the per-subscriber channel capacity.
	// Default: DefaultBufferSize.
	BufferSize int

	// Overflow selects the publisher behavior on a full buffer.
	// Default: OverflowBlock.
	Overflow OverflowPolicy
}

// InProc is the default in-process Bus implementation.
type InProc struct {
	mu     sync.Mutex
	config Config
	subs   map[string][]*subscriber
	tasks  map[string]*models.EpicTask
	// claims records the version a worker claimed, for transition checks.
	claims map[string]int64
}

type subscriber struct {
	topic  string
	ch     chan Envelope
	closed bool
}

// NewInProc creates an in-process bus.
func NewInProc(config Config) *InProc {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &InProc{
		config: config,
		subs:   map[string][]*subscriber{},
		tasks:  map[string]*models.EpicTask{},
		claims: map[string]int64{},
	}
}

func (b *InProc) Publish(ctx context.Context, topic string, payload any) error {
	env := Envelope{Topic: topic, Payload: payload, PublishedAt: time.Now()}

	b.mu.Lock()
	targets := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range targets {
		if err := b.deliver(ctx, sub, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *InProc) deliver(ctx context.Context, sub *subscriber, env Envelope) error {
	switch b.config.Overflow {
	case OverflowDropOldest:
		for {
			select {
			case sub.ch <- env:
				return nil
			default:
			}
			// Evict the oldest buffered message and retry.
			select {
			case <-sub.ch:
			default:
			}
		}
	default: // OverflowBlock
		select {
		case sub.ch <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *InProc) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func()) {
	sub := &subscriber{
		topic: topic,
		ch:    make(chan Envelope, b.config.BufferSize),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return sub.ch, cancel
}

func (b *InProc) PublishTask(ctx context.Context, task *models.EpicTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task with id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	clone := *task
	if clone.Status == "" {
		clone.Status = models.EpicTaskPending
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	b.tasks[clone.ID] = &clone
	return nil
}

// RequestTask picks by priority descending, then age ascending. A task
// whose dependencies are not all completed is not claimable.
func (b *InProc) RequestTask(ctx context.Context, workerID string, allowedTypes []string) (*models.EpicTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*models.EpicTask
	for _, t := range b.tasks {
		if t.Status != models.EpicTaskPending {
			continue
		}
		if !typeAllowed(t.Type, allowedTypes) {
			continue
		}
		if !b.depsCompletedLocked(t) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	task := candidates[0]
	task.Status = models.EpicTaskInProgress
	task.WorkerSessionID = workerID
	task.Version++
	task.UpdatedAt = time.Now()
	b.claims[task.ID] = task.Version

	clone := *task
	return &clone, nil
}

func (b *InProc) depsCompletedLocked(t *models.EpicTask) bool {
	for _, dep := range t.DependsOn {
		depTask, ok := b.tasks[dep]
		if !ok || depTask.Status != models.EpicTaskCompleted {
			return false
		}
	}
	return true
}

func (b *InProc) CompleteTask(ctx context.Context, taskID string, summary string) error {
	return b.transition(taskID, models.EpicTaskCompleted, summary, "")
}

func (b *InProc) FailTask(ctx context.Context, taskID string, errMsg string) error {
	return b.transition(taskID, models.EpicTaskFailed, "", errMsg)
}

func (b *InProc) transition(taskID string, status models.EpicTaskStatus, summary, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("%s: %w", taskID, ErrTaskNotFound)
	}
	claimed, ok := b.claims[taskID]
	if !ok || task.Version != claimed {
		return fmt.Errorf("%s: %w", taskID, ErrTaskConflict)
	}

	task.Status = status
	task.Summary = summary
	task.Error = errMsg
	task.Version++
	task.UpdatedAt = time.Now()
	delete(b.claims, taskID)
	return nil
}

func (b *InProc) PendingTasks(ctx context.Context, runID string) ([]*models.EpicTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*models.EpicTask
	for _, t := range b.tasks {
		if runID != "" && t.RunID != runID {
			continue
		}
		if t.Status == models.EpicTaskPending || t.Status == models.EpicTaskBlocked {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Clear drops buffered messages on a topic. Clearing TopicTasks also
// discards unclaimed tasks.
func (b *InProc) Clear(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[topic] {
		for {
			select {
			case <-sub.ch:
				continue
			default:
			}
			break
		}
	}

	if topic == TopicTasks {
		for id, t := range b.tasks {
			if t.Status == models.EpicTaskPending || t.Status == models.EpicTaskBlocked {
				delete(b.tasks, id)
			}
		}
	}
	return nil
}

func typeAllowed(taskType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == taskType || a == "*" {
			return true
		}
	}
	return false
}
