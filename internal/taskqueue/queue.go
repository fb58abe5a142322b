package taskqueue

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Queue enqueues deferred tasks. It remembers the pending resync per module
// so a newer command supersedes the resync scheduled by an older one instead
// of racing it.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector

	mu      sync.Mutex
	pending map[string]string // module -> pending task id
}

// NewQueue connects a task queue client to redis.
func NewQueue(redisAddr string) *Queue {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		pending:   map[string]string{},
	}
}

// Close releases the redis connections.
func (q *Queue) Close() {
	if err := q.client.Close(); err != nil {
		log.Printf("TASKQUEUE: close failed: %v", err)
	}
}

// ScheduleResync schedules a state resynchronization of module to run after
// the given delay, cancelling any resync still pending for the same module.
func (q *Queue) ScheduleResync(module string, after time.Duration) error {
	payload, err := json.Marshal(ResyncPayload{Module: module})
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.pending[module]; ok {
		if err := q.inspector.DeleteTask("default", old); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			log.Printf("TASKQUEUE: failed to cancel superseded resync for %s: %v", module, err)
		}
		delete(q.pending, module)
	}
	id := uuid.NewString()
	task := asynq.NewTask(TypeActuatorResync, payload)
	if _, err := q.client.Enqueue(task, asynq.ProcessIn(after), asynq.TaskID(id)); err != nil {
		return err
	}
	q.pending[module] = id
	log.Printf("TASKQUEUE: resync of %s scheduled in %s", module, after)
	return nil
}
