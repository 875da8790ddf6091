package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/semaphore"
)

const (
	TaskTypeModeration = "moderation:process"

	taskTimeout        = 2 * time.Minute
	syncQueueWorkers   = 10
	moderationMaxRetry = 3
)

// ModerationTask asks a worker to moderate stored content.
type ModerationTask struct {
	ContentID  uint      `json:"content_id"`
	ProjectID  uint      `json:"project_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskProcessor handles one moderation task.
type TaskProcessor func(context.Context, *ModerationTask) error

// TaskQueue defines the interface for moderation task processing
type TaskQueue interface {
	Enqueue(ctx context.Context, task *ModerationTask) error
	// IsAsync returns true if queue processes tasks out of process
	IsAsync() bool
	Close() error
}

// NewTaskQueue returns a Redis-backed queue when Redis is enabled and
// reachable, and an in-process queue otherwise.
func NewTaskQueue(cfg *config.RedisConfig, processor TaskProcessor) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err != nil {
			logger.Infof("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		} else {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Addr)
			return queue
		}
	} else {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	}
	q := NewSyncQueue(syncQueueWorkers)
	q.SetProcessor(processor)
	return q
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}
	return &AsyncQueue{client: client}, nil
}

// Enqueue adds the task. A task already queued for the same content is not
// duplicated.
func (q *AsyncQueue) Enqueue(ctx context.Context, task *ModerationTask) error {
	t, err := newModerationTask(task)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(moderationQueue),
		asynq.MaxRetry(moderationMaxRetry),
		asynq.Timeout(taskTimeout),
		asynq.TaskID(fmt.Sprintf("content-%d", task.ContentID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Debug().Uint("content_id", task.ContentID).Msg("[TaskQueue] Task already queued")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infof("[TaskQueue] Task enqueued: id=%s, queue=%s, content_id=%d", info.ID, info.Queue, task.ContentID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

func newModerationTask(task *ModerationTask) (*asynq.Task, error) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeModeration, payload), nil
}

func decodeModerationTask(payload []byte) (*ModerationTask, error) {
	var task ModerationTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, err
	}
	if task.ContentID == 0 {
		return nil, errors.New("task has no content id")
	}
	return &task, nil
}

// SyncQueue processes tasks in background goroutines of this process, at most
// workers at a time.
type SyncQueue struct {
	processor TaskProcessor
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSyncQueue(workers int) *SyncQueue {
	if workers <= 0 {
		workers = syncQueueWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncQueue{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *SyncQueue) SetProcessor(processor TaskProcessor) {
	q.processor = processor
}

// Enqueue returns immediately; the task runs once a worker slot is free.
func (q *SyncQueue) Enqueue(_ context.Context, task *ModerationTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, task for content %d dropped", task.ContentID)
		return nil
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	go func() {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		defer q.sem.Release(1)

		ctx, cancel := context.WithTimeout(q.ctx, taskTimeout)
		defer cancel()
		if err := q.processor(ctx, task); err != nil {
			logger.Warnf("[SyncQueue] Task for content %d failed: %v", task.ContentID, err)
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

// Close cancels tasks that are still waiting or running.
func (q *SyncQueue) Close() error {
	q.cancel()
	return nil
}
