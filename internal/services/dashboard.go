package services

import (
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

// DashboardService aggregates moderation activity across all projects.
type DashboardService struct {
	db *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

type DashboardStatsRequest struct {
	StartDate    string `form:"start_date"`
	EndDate      string `form:"end_date"`
	ProjectLimit int    `form:"project_limit" binding:"omitempty,min=1,max=100"`
	UserLimit    int    `form:"user_limit" binding:"omitempty,min=1,max=100"`
}

type DashboardStats struct {
	ActiveProjects    int64   `json:"active_projects"`
	ActiveUsers       int64   `json:"active_users"`
	TotalContent      int64   `json:"total_content"`
	Approved          int64   `json:"approved"`
	Rejected          int64   `json:"rejected"`
	Flagged           int64   `json:"flagged"`
	Pending           int64   `json:"pending"`
	ApprovalRate      float64 `json:"approval_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

type ProjectActivity struct {
	ProjectID    uint   `json:"project_id"`
	ProjectName  string `json:"project_name"`
	ContentCount int64  `json:"content_count"`
	Rejected     int64  `json:"rejected"`
	Flagged      int64  `json:"flagged"`
}

// UserActivity describes an end user with the most rejected submissions.
type UserActivity struct {
	ProjectID      uint    `json:"project_id"`
	ExternalUserID string  `json:"external_user_id"`
	TotalRequests  int64   `json:"total_requests"`
	Rejected       int64   `json:"rejected"`
	Flagged        int64   `json:"flagged"`
	ApprovalRate   float64 `json:"approval_rate"`
}

type DashboardResponse struct {
	Stats        DashboardStats    `json:"stats"`
	ProjectStats []ProjectActivity `json:"project_stats"`
	TopOffenders []UserActivity    `json:"top_offenders"`
	StartDate    time.Time         `json:"start_date"`
	EndDate      time.Time         `json:"end_date"`
}

// dateRange defaults to the last seven days. Unparseable dates fall back to
// the default.
func (req *DashboardStatsRequest) dateRange(now time.Time) (time.Time, time.Time) {
	startDate := now.AddDate(0, 0, -7)
	endDate := now
	if req.StartDate != "" {
		if t, err := time.ParseInLocation("2006-01-02", req.StartDate, now.Location()); err == nil {
			startDate = t
		}
	}
	if req.EndDate != "" {
		if t, err := time.ParseInLocation("2006-01-02", req.EndDate, now.Location()); err == nil {
			endDate = t.Add(24*time.Hour - time.Second)
		}
	}
	return startDate, endDate
}

func (s *DashboardService) GetStats(req *DashboardStatsRequest) (*DashboardResponse, error) {
	startDate, endDate := req.dateRange(time.Now())
	projectLimit, userLimit := req.ProjectLimit, req.UserLimit
	if projectLimit == 0 {
		projectLimit = 10
	}
	if userLimit == 0 {
		userLimit = 10
	}

	inRange := func() *gorm.DB {
		return s.db.Model(&models.Content{}).Where("created_at BETWEEN ? AND ?", startDate, endDate)
	}

	var stats DashboardStats
	if err := inRange().Distinct("project_id").Count(&stats.ActiveProjects).Error; err != nil {
		return nil, err
	}
	inRange().Where("api_user_id IS NOT NULL").Distinct("api_user_id").Count(&stats.ActiveUsers)

	var rows []struct {
		Status string
		Count  int64
	}
	if err := inRange().Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.TotalContent += r.Count
		switch r.Status {
		case models.ContentStatusApproved:
			stats.Approved = r.Count
		case models.ContentStatusRejected:
			stats.Rejected = r.Count
		case models.ContentStatusFlagged:
			stats.Flagged = r.Count
		case models.ContentStatusPending:
			stats.Pending = r.Count
		}
	}
	if stats.TotalContent > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.TotalContent) * 100
	}

	s.db.Model(&models.ModerationResult{}).
		Where("created_at BETWEEN ? AND ? AND moderator_type <> ?", startDate, endDate, "manual").
		Select("COALESCE(AVG(processing_time), 0)").
		Scan(&stats.AvgProcessingTime)

	var projectStats []ProjectActivity
	inRange().
		Select("project_id, COUNT(*) AS content_count, " +
			"SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END) AS rejected, " +
			"SUM(CASE WHEN status = 'flagged' THEN 1 ELSE 0 END) AS flagged").
		Group("project_id").
		Order("content_count DESC").
		Limit(projectLimit).
		Scan(&projectStats)

	for i := range projectStats {
		var project models.Project
		if err := s.db.Select("id", "name").First(&project, projectStats[i].ProjectID).Error; err == nil {
			projectStats[i].ProjectName = project.Name
		}
	}

	var users []models.APIUser
	s.db.Where("rejected > 0 AND last_request_at BETWEEN ? AND ?", startDate, endDate).
		Order("rejected DESC, total_requests DESC").
		Limit(userLimit).
		Find(&users)

	offenders := make([]UserActivity, 0, len(users))
	for i := range users {
		offenders = append(offenders, UserActivity{
			ProjectID:      users[i].ProjectID,
			ExternalUserID: users[i].ExternalUserID,
			TotalRequests:  users[i].TotalRequests,
			Rejected:       users[i].Rejected,
			Flagged:        users[i].Flagged,
			ApprovalRate:   users[i].ApprovalRate(),
		})
	}

	return &DashboardResponse{
		Stats:        stats,
		ProjectStats: projectStats,
		TopOffenders: offenders,
		StartDate:    startDate,
		EndDate:      endDate,
	}, nil
}
