package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/hibiken/asynq"
)

const (
	moderationQueue       = "moderation"
	workerShutdownTimeout = 30 * time.Second
)

// Worker consumes moderation tasks that AsyncQueue placed in Redis. Several
// server replicas may run workers against the same queue.
type Worker struct {
	server    *asynq.Server
	processor TaskProcessor

	mu      sync.Mutex
	started bool
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, concurrency int) *Worker {
	if !cfg.Enabled {
		return nil
	}
	if concurrency <= 0 {
		concurrency = syncQueueWorkers
	}

	return &Worker{
		server: asynq.NewServer(redisOpt(cfg), asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{moderationQueue: 1},
			ShutdownTimeout: workerShutdownTimeout,
			ErrorHandler:    asynq.ErrorHandlerFunc(logTaskFailure),
		}),
	}
}

// logTaskFailure runs after every failed attempt. The last attempt leaves the
// content pending for the scheduler's stale sweep.
func logTaskFailure(ctx context.Context, t *asynq.Task, err error) {
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	taskID, _ := asynq.GetTaskID(ctx)

	event := logger.Warn()
	if retry >= maxRetry {
		event = logger.Error()
	}
	event.Err(err).
		Str("task_id", taskID).
		Str("type", t.Type()).
		Int("retry", retry).
		Int("max_retry", maxRetry).
		Msg("[Worker] Moderation task failed")
}

func (w *Worker) SetProcessor(processor TaskProcessor) {
	w.processor = processor
}

// Start begins consuming in the background. Calling it twice is a no-op.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeModeration, func(ctx context.Context, t *asynq.Task) error {
		return runModerationTask(ctx, t, w.processor)
	})
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.started = true
	logger.Info().Str("queue", moderationQueue).Msg("[Worker] Consuming moderation tasks")
	return nil
}

// Stop waits up to workerShutdownTimeout for in-flight tasks. Unfinished
// tasks return to the queue.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.server.Shutdown()
	w.started = false
	logger.Info().Msg("[Worker] Stopped")
}

// runModerationTask decodes and runs t. Malformed payloads are not retried.
func runModerationTask(ctx context.Context, t *asynq.Task, processor TaskProcessor) error {
	task, err := decodeModerationTask(t.Payload())
	if err != nil {
		logger.Warnf("[Worker] Discarding malformed task: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if processor == nil {
		logger.Warnf("[Worker] No processor set, content %d left pending", task.ContentID)
		return nil
	}

	logger.Debug().Uint("content_id", task.ContentID).Uint("project_id", task.ProjectID).Msg("[Worker] Processing moderation task")
	return processor(ctx, task)
}
