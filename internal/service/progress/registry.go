package progress

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultQueueSize bounds each subscriber's send queue when no size is
// configured.
const DefaultQueueSize = 64

// Subscriber is one live push client for one task.
type Subscriber struct {
	// ID is the subscriber's unique identifier.
	ID string
	// TaskID is the task the subscriber watches.
	TaskID string
	// Events delivers pushed events. Closed when the subscriber is dropped.
	Events chan *Event
}

// Registry tracks live push subscribers per task and fans events out to
// them. Enqueues never block: a subscriber whose queue is full is dropped
// and closed rather than stalling the pipeline.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber // taskID -> subID -> sub
	queueSize   int
	logger      *slog.Logger
}

// NewRegistry creates a new subscriber registry.
func NewRegistry(queueSize int, logger *slog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subscribers: make(map[string]map[string]*Subscriber),
		queueSize:   queueSize,
		logger:      logger.With("component", "subscriber_registry"),
	}
}

// Subscribe registers a new subscriber for a task. The returned unsubscribe
// func is idempotent and safe to call after the registry dropped the
// subscriber itself.
func (r *Registry) Subscribe(taskID string) (*Subscriber, func()) {
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		TaskID: taskID,
		Events: make(chan *Event, r.queueSize),
	}

	r.mu.Lock()
	byTask, ok := r.subscribers[taskID]
	if !ok {
		byTask = make(map[string]*Subscriber)
		r.subscribers[taskID] = byTask
	}
	byTask[sub.ID] = sub
	r.mu.Unlock()

	r.logger.Debug("subscriber added",
		slog.String("task_id", taskID),
		slog.String("subscriber_id", sub.ID),
	)

	return sub, func() { r.remove(taskID, sub.ID) }
}

// Broadcast enqueues an event to every subscriber of the task. Slow
// consumers are dropped and closed; the call never blocks.
func (r *Registry) Broadcast(taskID string, event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTask := r.subscribers[taskID]
	for id, sub := range byTask {
		select {
		case sub.Events <- event:
		default:
			// Slow consumer policy: disconnect rather than stall.
			delete(byTask, id)
			close(sub.Events)
			r.logger.Warn("dropping slow subscriber",
				slog.String("task_id", taskID),
				slog.String("subscriber_id", id),
			)
		}
	}
	if len(byTask) == 0 {
		delete(r.subscribers, taskID)
	}
}

// DropAll removes and closes every subscriber of a task. Used on task
// delete so push clients observe the close.
func (r *Registry) DropAll(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subscribers[taskID] {
		close(sub.Events)
		r.logger.Debug("subscriber dropped",
			slog.String("task_id", taskID),
			slog.String("subscriber_id", id),
		)
	}
	delete(r.subscribers, taskID)
}

// SubscriberCount returns the number of live subscribers for a task.
func (r *Registry) SubscriberCount(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[taskID])
}

// remove deletes one subscriber and closes its queue if still registered.
func (r *Registry) remove(taskID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTask, ok := r.subscribers[taskID]
	if !ok {
		return
	}
	sub, ok := byTask[subID]
	if !ok {
		return
	}
	delete(byTask, subID)
	if len(byTask) == 0 {
		delete(r.subscribers, taskID)
	}
	close(sub.Events)
}
