package services

import (
	"errors"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

var ErrProjectNotFound = errors.New("project not found")

type ProjectService struct {
	db *gorm.DB
}

func NewProjectService(db *gorm.DB) *ProjectService {
	return &ProjectService{db: db}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Name              string `json:"name" binding:"required,max=200"`
	Description       string `json:"description"`
	DiscordWebhookURL string `json:"discord_webhook_url" binding:"omitempty,url"`
	DiscordEnabled    bool   `json:"discord_enabled"`
	NotifyOnFlag      bool   `json:"notify_on_flag"`
	LLMConfigID       *uint  `json:"llm_config_id"`
}

type UpdateProjectRequest struct {
	Name              string  `json:"name" binding:"omitempty,max=200"`
	Description       *string `json:"description"`
	DiscordWebhookURL *string `json:"discord_webhook_url"`
	DiscordEnabled    *bool   `json:"discord_enabled"`
	NotifyOnReject    *bool   `json:"notify_on_reject"`
	NotifyOnFlag      *bool   `json:"notify_on_flag"`
	LLMConfigID       *uint   `json:"llm_config_id"`
}

// ProjectStats summarizes moderation outcomes for one project.
type ProjectStats struct {
	ProjectID    uint    `json:"project_id"`
	Total        int64   `json:"total"`
	Pending      int64   `json:"pending"`
	Approved     int64   `json:"approved"`
	Rejected     int64   `json:"rejected"`
	Flagged      int64   `json:"flagged"`
	ApprovalRate float64 `json:"approval_rate"`
	ActiveRules  int64   `json:"active_rules"`
	APIUsers     int64   `json:"api_users"`
}

// List returns paginated projects
func (s *ProjectService) List(req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	var projects []models.Project
	var total int64

	query := s.db.Model(&models.Project{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

// GetByID returns a project by ID
func (s *ProjectService) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

// Create inserts the project together with the default rule set.
func (s *ProjectService) Create(req *CreateProjectRequest, userID uint) (*models.Project, error) {
	project := models.Project{
		Name:              req.Name,
		Description:       req.Description,
		OwnerID:           userID,
		DiscordWebhookURL: req.DiscordWebhookURL,
		DiscordEnabled:    req.DiscordEnabled,
		NotifyOnFlag:      req.NotifyOnFlag,
		LLMConfigID:       req.LLMConfigID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		return models.CreateDefaultRules(tx, project.ID)
	})
	if err != nil {
		return nil, err
	}

	project.HasDiscordWebhook = project.DiscordWebhookURL != ""
	return &project, nil
}

// Update updates a project
func (s *ProjectService) Update(id uint, req *UpdateProjectRequest) (*models.Project, error) {
	project, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.DiscordWebhookURL != nil {
		updates["discord_webhook_url"] = *req.DiscordWebhookURL
	}
	if req.DiscordEnabled != nil {
		updates["discord_enabled"] = *req.DiscordEnabled
	}
	if req.NotifyOnReject != nil {
		updates["notify_on_reject"] = *req.NotifyOnReject
	}
	if req.NotifyOnFlag != nil {
		updates["notify_on_flag"] = *req.NotifyOnFlag
	}
	if req.LLMConfigID != nil {
		if *req.LLMConfigID == 0 {
			updates["llm_config_id"] = nil
		} else {
			updates["llm_config_id"] = *req.LLMConfigID
		}
	}

	if len(updates) > 0 {
		if err := s.db.Model(project).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	return s.GetByID(id)
}

// Delete removes the project and its rules and API keys. Moderated content
// and API user counters are kept for auditing.
func (s *ProjectService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Project{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.ModerationRule{}).Error; err != nil {
			return err
		}
		return tx.Where("project_id = ?", id).Delete(&models.APIKey{}).Error
	})
}

// Stats counts content per status. The approval rate is the share of all
// submitted content that was approved, in percent.
func (s *ProjectService) Stats(id uint) (*ProjectStats, error) {
	if _, err := s.GetByID(id); err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.Model(&models.Content{}).
		Select("status, COUNT(*) AS count").
		Where("project_id = ?", id).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := &ProjectStats{ProjectID: id}
	for _, r := range rows {
		stats.Total += r.Count
		switch r.Status {
		case models.ContentStatusPending:
			stats.Pending = r.Count
		case models.ContentStatusApproved:
			stats.Approved = r.Count
		case models.ContentStatusRejected:
			stats.Rejected = r.Count
		case models.ContentStatusFlagged:
			stats.Flagged = r.Count
		}
	}
	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.Total) * 100
	}

	s.db.Model(&models.ModerationRule{}).Where("project_id = ? AND is_active = ?", id, true).Count(&stats.ActiveRules)
	s.db.Model(&models.APIUser{}).Where("project_id = ?", id).Count(&stats.APIUsers)
	return stats, nil
}
