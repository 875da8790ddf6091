package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	jobStalePending = "stale_pending_sweep"
	jobAuditCleanup = "audit_log_cleanup"

	stalePendingInterval = 5 * time.Minute
	stalePendingBatch    = 100
)

// SchedulerService runs the periodic maintenance jobs: expiring result cache
// entries, re-enqueueing content stuck in pending and pruning the audit trail.
type SchedulerService struct {
	db    *gorm.DB
	cache *moderation.ResultCache
	store *ModerationStore
	queue TaskQueue
	cfg   config.ModerationConfig
	owner string
	cron  *cron.Cron

	auditLogs       *AuditLogService
	auditRetainDays int
}

func NewSchedulerService(db *gorm.DB, cache *moderation.ResultCache, queue TaskQueue, cfg config.ModerationConfig) *SchedulerService {
	return &SchedulerService{
		db:    db,
		cache: cache,
		store: NewModerationStore(db),
		queue: queue,
		cfg:   cfg,
		owner: uuid.NewString(),
	}
}

func (s *SchedulerService) Start() error {
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	cleanupEvery := s.cfg.ResultCacheCleanup
	if cleanupEvery <= 0 {
		cleanupEvery = 15 * time.Minute
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cleanupEvery), func() { s.CleanupResultCache() }); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", stalePendingInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepStalePending(ctx); err != nil {
			logger.Warnf("[Scheduler] Stale pending sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stale sweep: %w", err)
	}

	if s.auditLogs != nil && s.auditRetainDays > 0 {
		if _, err := s.cron.AddFunc("@daily", func() { s.CleanupAuditLogs(context.Background()) }); err != nil {
			return fmt.Errorf("schedule audit cleanup: %w", err)
		}
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started: cache cleanup every %s, stale sweep every %s", cleanupEvery, stalePendingInterval)
	return nil
}

func (s *SchedulerService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SetAuditRetention enables the daily audit trail cleanup. Call before Start.
func (s *SchedulerService) SetAuditRetention(logs *AuditLogService, days int) {
	s.auditLogs = logs
	s.auditRetainDays = days
}

// CleanupAuditLogs deletes audit entries past the retention window. Only the
// replica holding the job lease runs it.
func (s *SchedulerService) CleanupAuditLogs(ctx context.Context) int64 {
	if s.auditLogs == nil || s.auditRetainDays <= 0 {
		return 0
	}
	ok, err := s.acquireLease(ctx, jobAuditCleanup, time.Hour)
	if err != nil || !ok {
		return 0
	}
	removed, err := s.auditLogs.CleanupOldLogs(s.auditRetainDays)
	if err != nil {
		logger.Warnf("[Scheduler] Audit log cleanup failed: %v", err)
		return 0
	}
	if removed > 0 {
		logger.Infof("[Scheduler] Audit log cleanup removed %d entries older than %d days", removed, s.auditRetainDays)
	}
	return removed
}

// CleanupResultCache drops expired entries and returns how many were removed.
func (s *SchedulerService) CleanupResultCache() int {
	if s.cache == nil {
		return 0
	}
	removed := s.cache.Cleanup()
	if removed > 0 {
		logger.Infof("[Scheduler] Result cache cleanup removed %d entries", removed)
	}
	return removed
}

// SweepStalePending re-enqueues content that has been pending longer than the
// configured threshold. Only the replica holding the job lease sweeps.
func (s *SchedulerService) SweepStalePending(ctx context.Context) (int, error) {
	ok, err := s.acquireLease(ctx, jobStalePending, stalePendingInterval)
	if err != nil {
		return 0, err
	}
	if !ok {
		logger.Debug().Msg("[Scheduler] Stale sweep lease held by another replica")
		return 0, nil
	}

	olderThan := s.cfg.StalePendingAfter
	if olderThan <= 0 {
		olderThan = 10 * time.Minute
	}
	ids, err := s.store.StalePending(ctx, olderThan, stalePendingBatch)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, &ModerationTask{ContentID: id}); err != nil {
			logger.Warnf("[Scheduler] Re-enqueue content %d failed: %v", id, err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		logger.Infof("[Scheduler] Re-enqueued %d stale pending items", enqueued)
	}
	return enqueued, nil
}

// acquireLease takes or renews the lease on job for ttl.
func (s *SchedulerService) acquireLease(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	now := time.Now()
	db := s.db.WithContext(ctx)

	res := db.Model(&models.SchedulerLock{}).
		Where("job = ? AND (expires_at < ? OR owner = ?)", job, now, s.owner).
		Updates(map[string]interface{}{"owner": s.owner, "expires_at": now.Add(ttl)})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&models.SchedulerLock{}).Where("job = ?", job).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	// A concurrent insert by another replica fails on the unique index.
	if err := db.Create(&models.SchedulerLock{Job: job, Owner: s.owner, ExpiresAt: now.Add(ttl)}).Error; err != nil {
		return false, nil
	}
	return true, nil
}
