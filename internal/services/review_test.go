package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

func submitFlagged(t *testing.T, db *gorm.DB, projectID uint, text string) uint {
	t.Helper()
	svc := NewContentService(db, newTestPipeline(db), nil, config.DefaultConfig().Moderation)
	res, err := svc.Submit(context.Background(), projectID, &SubmitRequest{Content: text, UserID: "reviewed-user"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.ContentStatusFlagged {
		t.Fatalf("Status = %q, expected flagged", res.Status)
	}
	return res.ContentID
}

func TestManualReviewService_Decide(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	addKeywordRule(t, db, project.ID, "suspicious", "flag")
	id := submitFlagged(t, db, project.ID, "something suspicious")

	svc := NewManualReviewService(db, nil)
	queue, err := svc.Queue(context.Background(), &ReviewQueueRequest{ProjectID: project.ID})
	if err != nil {
		t.Fatal(err)
	}
	if queue.Pagination.Total != 1 || queue.Items[0].ID != id {
		t.Fatalf("queue = %+v", queue.Pagination)
	}

	detail, err := svc.Decide(context.Background(), id, Reviewer{ID: 1, Username: "admin"}, &ReviewDecisionRequest{
		Decision: "approved",
		Notes:    "false positive",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if detail.Status != models.ContentStatusApproved {
		t.Errorf("Status = %q, expected approved", detail.Status)
	}
	last := detail.Results[len(detail.Results)-1]
	if last.ModeratorType != "manual" || last.ModeratorName != "admin" || last.Confidence != 1.0 {
		t.Errorf("manual result = %+v", last)
	}
	if last.Position != len(detail.Results)-1 {
		t.Errorf("Position = %d, expected %d", last.Position, len(detail.Results)-1)
	}

	var user models.APIUser
	db.Where("external_user_id = ?", "reviewed-user").First(&user)
	if user.Flagged != 0 || user.Approved != 1 {
		t.Errorf("api user counters flagged=%d approved=%d, expected 0 and 1", user.Flagged, user.Approved)
	}

	queue, _ = svc.Queue(context.Background(), &ReviewQueueRequest{})
	if queue.Pagination.Total != 0 {
		t.Errorf("queue total = %d after decision, expected 0", queue.Pagination.Total)
	}
}

func TestManualReviewService_DecideErrors(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	pending := models.Content{ProjectID: project.ID, ContentData: "waiting"}
	if err := db.Create(&pending).Error; err != nil {
		t.Fatal(err)
	}
	svc := NewManualReviewService(db, nil)
	req := &ReviewDecisionRequest{Decision: "rejected"}

	if _, err := svc.Decide(context.Background(), pending.ID, Reviewer{Username: "a"}, req); !errors.Is(err, ErrContentPending) {
		t.Errorf("pending content: err = %v, expected ErrContentPending", err)
	}
	if _, err := svc.Decide(context.Background(), 9999, Reviewer{Username: "a"}, req); !errors.Is(err, ErrContentNotFound) {
		t.Errorf("missing content: err = %v, expected ErrContentNotFound", err)
	}
}

func TestManualReviewService_BulkDecideIsAtomic(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	addKeywordRule(t, db, project.ID, "suspicious", "flag")
	a := submitFlagged(t, db, project.ID, "suspicious one")
	b := submitFlagged(t, db, project.ID, "suspicious two")
	svc := NewManualReviewService(db, nil)
	reviewer := Reviewer{ID: 1, Username: "admin"}

	_, err := svc.BulkDecide(context.Background(), reviewer, &BulkDecisionRequest{
		ContentIDs: []uint{a, 9999},
		Decision:   "rejected",
		Reason:     "spam wave",
	})
	if !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("err = %v, expected ErrContentNotFound", err)
	}
	var c models.Content
	db.First(&c, a)
	if c.Status != models.ContentStatusFlagged {
		t.Errorf("status after failed bulk = %q, expected flagged", c.Status)
	}

	n, err := svc.BulkDecide(context.Background(), reviewer, &BulkDecisionRequest{
		ContentIDs: []uint{a, b},
		Decision:   "rejected",
		Reason:     "spam wave",
	})
	if err != nil || n != 2 {
		t.Fatalf("BulkDecide = %d, %v", n, err)
	}
	var rejected int64
	db.Model(&models.Content{}).Where("status = ?", models.ContentStatusRejected).Count(&rejected)
	if rejected != 2 {
		t.Errorf("rejected = %d, expected 2", rejected)
	}
}
