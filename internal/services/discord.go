package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Discord embed colors.
const (
	DiscordColorRejected = 0xFF0000
	DiscordColorFlagged  = 0xFFA500
	DiscordColorInfo     = 0x3498DB
)

// DiscordAlert describes a moderation outcome worth a human look.
type DiscordAlert struct {
	ContentID     uint
	ContentUUID   string
	ProjectID     uint
	ProjectName   string
	Status        string
	Confidence    float64
	Reason        string
	ModeratorType string
	UserID        string
	APIUserID     *uint
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
	Footer      map[string]string   `json:"footer"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier posts embeds to Discord webhooks. Requests are retried on
// connection errors, 429 and 5xx.
type DiscordNotifier struct {
	client  *retryablehttp.Client
	baseURL string
}

func NewDiscordNotifier(baseURL string) *DiscordNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = retryLogger{}
	return &DiscordNotifier{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SendModerationAlert posts the alert to webhookURL.
func (d *DiscordNotifier) SendModerationAlert(ctx context.Context, webhookURL string, alert *DiscordAlert) error {
	if webhookURL == "" {
		return fmt.Errorf("discord webhook not configured")
	}
	if err := d.post(ctx, webhookURL, discordPayload{Embeds: []discordEmbed{d.buildEmbed(alert, time.Now())}}); err != nil {
		return err
	}
	logger.Infof("[Discord] Alert sent for content %d (%s)", alert.ContentID, alert.Status)
	return nil
}

// SendTest posts a sample embed so users can verify a webhook.
func (d *DiscordNotifier) SendTest(ctx context.Context, webhookURL, projectName string) error {
	if webhookURL == "" {
		return fmt.Errorf("discord webhook not configured")
	}
	embed := discordEmbed{
		Title:       "✅ Discord Integration Test",
		Description: "Moderation alerts for this project will be delivered to this channel.",
		Color:       DiscordColorInfo,
		Fields: []discordEmbedField{
			{Name: "Project", Value: projectName, Inline: true},
			{Name: "Status", Value: "Connected", Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    map[string]string{"text": "AutoModerate"},
	}
	return d.post(ctx, webhookURL, discordPayload{Embeds: []discordEmbed{embed}})
}

func (d *DiscordNotifier) buildEmbed(a *DiscordAlert, now time.Time) discordEmbed {
	title := cases.Title(language.English)

	emoji, color := "ℹ️", DiscordColorInfo
	switch a.Status {
	case "rejected":
		emoji, color = "🚫", DiscordColorRejected
	case "flagged":
		emoji, color = "🚩", DiscordColorFlagged
	}

	contentRef := a.ContentUUID
	if len(contentRef) > 8 {
		contentRef = contentRef[:8] + "..."
	}
	if contentRef == "" {
		contentRef = fmt.Sprintf("%d", a.ContentID)
	}
	userID := "N/A"
	if a.UserID != "" {
		userID = "`" + a.UserID + "`"
	}

	fields := []discordEmbedField{
		{Name: "Project", Value: a.ProjectName, Inline: true},
		{Name: "Content ID", Value: "`" + contentRef + "`", Inline: true},
		{Name: "User ID", Value: userID, Inline: true},
		{Name: "Status", Value: title.String(a.Status), Inline: true},
		{Name: "Confidence", Value: fmt.Sprintf("%.2f%%", a.Confidence*100), Inline: true},
		{Name: "Moderator", Value: title.String(a.ModeratorType), Inline: true},
	}
	if d.baseURL != "" {
		links := []string{fmt.Sprintf("[View Content](%s/projects/%d/content/%d)", d.baseURL, a.ProjectID, a.ContentID)}
		if a.APIUserID != nil {
			links = append(links, fmt.Sprintf("[View User Profile](%s/api-users/%d)", d.baseURL, *a.APIUserID))
		}
		fields = append(fields, discordEmbedField{Name: "Links", Value: strings.Join(links, " • ")})
	}

	return discordEmbed{
		Title:       fmt.Sprintf("%s Content %s for Review", emoji, title.String(a.Status)),
		Description: a.Reason,
		Color:       color,
		Fields:      fields,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      map[string]string{"text": "AutoModerate"},
	}
}

func (d *DiscordNotifier) post(ctx context.Context, webhookURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// retryLogger routes retryablehttp's logging into zerolog. Retries are logged
// at warn level, the per-request chatter at debug.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { logger.Error().Fields(kv).Msg(msg) }
func (retryLogger) Info(msg string, kv ...interface{})  { logger.Debug().Fields(kv).Msg(msg) }
func (retryLogger) Debug(msg string, kv ...interface{}) { logger.Debug().Fields(kv).Msg(msg) }
func (retryLogger) Warn(msg string, kv ...interface{})  { logger.Warn().Fields(kv).Msg(msg) }
