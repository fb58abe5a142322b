package taskqueue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
)

// Syncer resynchronizes the overview mirror of the given modules from the
// hardware.
type Syncer interface {
	SyncTargets(ctx context.Context, modules ...string) error
}

// Worker consumes deferred tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates a task worker backed by redis.
func NewWorker(redisAddr string, syncer Syncer) *Worker {
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: 5})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeActuatorResync, func(ctx context.Context, task *asynq.Task) error {
		var payload ResyncPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return err
		}
		log.Printf("TASKQUEUE: running resync of %s", payload.Module)
		return syncer.SyncTargets(ctx, payload.Module)
	})
	return &Worker{server: server, mux: mux}
}

// Start begins processing tasks in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Stop shuts the worker down, waiting for in-flight tasks.
func (w *Worker) Stop() {
	w.server.Shutdown()
}
