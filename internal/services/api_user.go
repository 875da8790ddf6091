package services

import (
	"errors"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

var ErrAPIUserNotFound = errors.New("api user not found")

// APIUserService reads the per end-user counters kept by the pipeline.
type APIUserService struct {
	db *gorm.DB
}

func NewAPIUserService(db *gorm.DB) *APIUserService {
	return &APIUserService{db: db}
}

type APIUserListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Search   string `form:"search"`
	// Sort is one of recent, requests, rejected.
	Sort string `form:"sort" binding:"omitempty,oneof=recent requests rejected"`
}

type APIUserSummary struct {
	models.APIUser
	ApprovalRate float64 `json:"approval_rate"`
}

type APIUserListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []APIUserSummary `json:"items"`
}

func (s *APIUserService) List(projectID uint, req *APIUserListRequest) (*APIUserListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.APIUser{}).Where("project_id = ?", projectID)
	if req.Search != "" {
		query = query.Where("external_user_id LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	order := "last_request_at DESC, id DESC"
	switch req.Sort {
	case "requests":
		order = "total_requests DESC, id DESC"
	case "rejected":
		order = "rejected DESC, id DESC"
	}

	var users []models.APIUser
	if err := query.Order(order).Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&users).Error; err != nil {
		return nil, err
	}

	items := make([]APIUserSummary, 0, len(users))
	for _, u := range users {
		items = append(items, APIUserSummary{APIUser: u, ApprovalRate: u.ApprovalRate()})
	}
	return &APIUserListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// GetByExternalID looks up an end user by the client's own user id.
func (s *APIUserService) GetByExternalID(projectID uint, externalID string) (*APIUserSummary, error) {
	var user models.APIUser
	err := s.db.Where("project_id = ? AND external_user_id = ?", projectID, externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAPIUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &APIUserSummary{APIUser: user, ApprovalRate: user.ApprovalRate()}, nil
}
