package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*ModerationTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task *ModerationTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return true }
func (q *recordingQueue) Close() error  { return nil }

func (q *recordingQueue) ids() []uint {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []uint
	for _, t := range q.tasks {
		out = append(out, t.ContentID)
	}
	return out
}

func TestSchedulerService_AcquireLease(t *testing.T) {
	db := newTestDB(t)
	cfg := config.DefaultConfig().Moderation
	a := NewSchedulerService(db, nil, &recordingQueue{}, cfg)
	b := NewSchedulerService(db, nil, &recordingQueue{}, cfg)
	ctx := context.Background()

	if ok, err := a.acquireLease(ctx, "job", time.Minute); !ok || err != nil {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := b.acquireLease(ctx, "job", time.Minute); ok {
		t.Error("second replica should not get a held lease")
	}
	if ok, _ := a.acquireLease(ctx, "job", time.Minute); !ok {
		t.Error("holder should be able to renew")
	}

	db.Model(&models.SchedulerLock{}).Where("job = ?", "job").Update("expires_at", time.Now().Add(-time.Second))
	if ok, _ := b.acquireLease(ctx, "job", time.Minute); !ok {
		t.Error("expired lease should be taken over")
	}
	if ok, _ := a.acquireLease(ctx, "job", time.Minute); ok {
		t.Error("previous holder lost the lease")
	}
}

func TestSchedulerService_SweepStalePending(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	stale := &models.Content{ProjectID: project.ID, ContentData: "stale"}
	fresh := &models.Content{ProjectID: project.ID, ContentData: "fresh"}
	db.Create(stale)
	db.Create(fresh)
	db.Model(&models.Content{}).Where("id = ?", stale.ID).Update("created_at", time.Now().Add(-time.Hour))

	queue := &recordingQueue{}
	s := NewSchedulerService(db, nil, queue, config.DefaultConfig().Moderation)

	n, err := s.SweepStalePending(context.Background())
	if err != nil {
		t.Fatalf("SweepStalePending: %v", err)
	}
	ids := queue.ids()
	if n != 1 || len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("enqueued %d, ids %v, expected [%d]", n, ids, stale.ID)
	}

	other := NewSchedulerService(db, nil, queue, config.DefaultConfig().Moderation)
	if n, _ := other.SweepStalePending(context.Background()); n != 0 {
		t.Errorf("replica without the lease enqueued %d", n)
	}
}

func TestSchedulerService_CleanupResultCache(t *testing.T) {
	cache := moderation.NewResultCache(moderation.ResultCacheConfig{TTL: time.Millisecond})
	cache.Put("k", moderation.RuleResult{Decision: moderation.DecisionApproved})
	time.Sleep(5 * time.Millisecond)

	s := NewSchedulerService(nil, cache, &recordingQueue{}, config.DefaultConfig().Moderation)
	if removed := s.CleanupResultCache(); removed != 1 {
		t.Errorf("removed = %d, expected 1", removed)
	}
	if cache.Size() != 0 {
		t.Errorf("Size = %d", cache.Size())
	}
}

func TestSchedulerService_StartStop(t *testing.T) {
	s := NewSchedulerService(nil, nil, &recordingQueue{}, config.DefaultConfig().Moderation)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(s.cron.Entries()) != 2 {
		t.Errorf("entries = %d, expected 2", len(s.cron.Entries()))
	}
	s.Stop()
}

func TestSchedulerService_CleanupAuditLogs(t *testing.T) {
	db := newTestDB(t)
	logs := NewAuditLogService(db)
	logs.Record(&models.AuditLog{Module: "projects", Action: "create", CreatedAt: time.Now().AddDate(0, 0, -40)})
	logs.Record(&models.AuditLog{Module: "rules", Action: "update"})

	s := NewSchedulerService(db, nil, &recordingQueue{}, config.DefaultConfig().Moderation)
	if removed := s.CleanupAuditLogs(context.Background()); removed != 0 {
		t.Errorf("removed without retention = %d, expected 0", removed)
	}

	s.SetAuditRetention(logs, 30)
	if removed := s.CleanupAuditLogs(context.Background()); removed != 1 {
		t.Errorf("removed = %d, expected 1", removed)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if len(s.cron.Entries()) != 3 {
		t.Errorf("entries = %d, expected 3", len(s.cron.Entries()))
	}
}
