package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"gorm.io/gorm"
)

const contentPreviewLength = 100

// ModerationEvent is the realtime update pushed after every decision.
type ModerationEvent struct {
	ContentID      uint                   `json:"content_id"`
	ProjectID      uint                   `json:"project_id"`
	Status         string                 `json:"status"`
	ContentType    string                 `json:"content_type"`
	ContentPreview string                 `json:"content_preview"`
	MetaData       map[string]interface{} `json:"meta_data"`
	ResultsCount   int                    `json:"results_count"`
	ProcessingTime float64                `json:"processing_time"`
	ModeratorType  string                 `json:"moderator_type"`
	ModeratorName  string                 `json:"moderator_name"`
	RuleName       *string                `json:"rule_name"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewModerationEvent summarizes a decision for realtime clients. The moderator
// fields describe the first result.
func NewModerationEvent(content *moderation.Content, decision *moderation.FinalDecision) ModerationEvent {
	preview := content.Data
	if runes := []rune(preview); len(runes) > contentPreviewLength {
		preview = string(runes[:contentPreviewLength]) + "..."
	}

	ev := ModerationEvent{
		ContentID:      content.ID,
		ProjectID:      content.ProjectID,
		Status:         string(decision.Decision),
		ContentType:    content.ContentType,
		ContentPreview: preview,
		MetaData:       content.Metadata,
		ResultsCount:   len(decision.Results),
		ProcessingTime: decision.Elapsed.Seconds(),
		ModeratorType:  "unknown",
		ModeratorName:  "Unknown",
		Timestamp:      time.Now(),
	}
	if first, ok := decision.Primary(); ok {
		ev.ModeratorType = string(first.ModeratorType)
		switch first.ModeratorType {
		case moderation.ModeratorRule:
			ev.ModeratorName = "Rule"
			name := first.RuleName
			if name == "" {
				name = "Unknown Rule"
			}
			ev.RuleName = &name
		case moderation.ModeratorAI:
			ev.ModeratorName = "AI"
		case moderation.ModeratorSystem:
			ev.ModeratorName = "System"
		case moderation.ModeratorManual:
			ev.ModeratorName = "Manual"
		}
	}
	return ev
}

// NotificationService fans decisions out to SSE and WebSocket subscribers and,
// for projects that opted in, to Discord.
type NotificationService struct {
	db              *gorm.DB
	sse             *SSEHub
	ws              *WebSocketHub
	discord         *DiscordNotifier
	fallbackWebhook string
}

var _ moderation.Notifier = (*NotificationService)(nil)

// NewNotificationService wires the sinks. Any of sse, ws and discord may be nil.
func NewNotificationService(db *gorm.DB, sse *SSEHub, ws *WebSocketHub, discord *DiscordNotifier, fallbackWebhook string) *NotificationService {
	return &NotificationService{
		db:              db,
		sse:             sse,
		ws:              ws,
		discord:         discord,
		fallbackWebhook: fallbackWebhook,
	}
}

func (s *NotificationService) Publish(ctx context.Context, content *moderation.Content, decision *moderation.FinalDecision) {
	s.Broadcast(content, decision)
	if s.discord != nil {
		if err := s.alertDiscord(ctx, content, decision); err != nil {
			logger.Warnf("[Notification] Discord alert for content %d failed: %v", content.ID, err)
		}
	}
}

// Broadcast pushes the decision to realtime subscribers only.
func (s *NotificationService) Broadcast(content *moderation.Content, decision *moderation.FinalDecision) {
	event := NewModerationEvent(content, decision)
	if s.sse != nil {
		s.sse.Publish(event)
	}
	if s.ws != nil {
		s.ws.EmitToProject(content.ProjectID, EventModerationUpdate, event)
	}
}

// PublishRuleUpdate tells a project's dashboard that a rule changed.
func (s *NotificationService) PublishRuleUpdate(rule *models.ModerationRule, action string) {
	if s.ws == nil {
		return
	}
	s.ws.EmitToProject(rule.ProjectID, EventRuleUpdate, map[string]interface{}{
		"action":    action,
		"rule":      rule,
		"timestamp": rule.UpdatedAt,
	})
}

// PublishStats pushes fresh project statistics to its dashboard.
func (s *NotificationService) PublishStats(projectID uint, stats interface{}) {
	if s.ws == nil {
		return
	}
	s.ws.EmitToProject(projectID, EventStatsUpdate, stats)
}

func (s *NotificationService) alertDiscord(ctx context.Context, content *moderation.Content, decision *moderation.FinalDecision) error {
	if decision.Decision != moderation.DecisionRejected && decision.Decision != moderation.DecisionFlagged {
		return nil
	}
	if s.db == nil {
		return nil
	}

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, content.ProjectID).Error; err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if !shouldAlert(&project, decision.Decision) {
		return nil
	}
	webhook := project.DiscordWebhookURL
	if webhook == "" {
		webhook = s.fallbackWebhook
	}
	if webhook == "" {
		logger.Debug().Uint("project_id", project.ID).Msg("[Notification] Discord enabled but no webhook configured")
		return nil
	}

	alert := &DiscordAlert{
		ContentID:   content.ID,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Status:      string(decision.Decision),
		APIUserID:   content.APIUserID,
	}
	var uuids []string
	if err := s.db.WithContext(ctx).Model(&models.Content{}).Where("id = ?", content.ID).Pluck("uuid", &uuids).Error; err == nil && len(uuids) > 0 {
		alert.ContentUUID = uuids[0]
	}
	if first, ok := decision.Primary(); ok {
		alert.Confidence = first.Confidence
		alert.Reason = first.Reason
		alert.ModeratorType = string(first.ModeratorType)
	}
	if uid, ok := content.Metadata["user_id"]; ok {
		alert.UserID = fmt.Sprint(uid)
	}
	return s.discord.SendModerationAlert(ctx, webhook, alert)
}

func shouldAlert(project *models.Project, d moderation.Decision) bool {
	if !project.DiscordEnabled {
		return false
	}
	switch d {
	case moderation.DecisionRejected:
		return project.NotifyOnReject
	case moderation.DecisionFlagged:
		return project.NotifyOnFlag
	}
	return false
}
