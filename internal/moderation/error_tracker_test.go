package moderation

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTracker_RecentNewestFirst(t *testing.T) {
	tr := NewErrorTracker(3)
	for i := 1; i <= 5; i++ {
		tr.Track(ErrorTypeDatabase, fmt.Errorf("err %d", i), nil)
	}

	recent := tr.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("got %d recent errors, want 3", len(recent))
	}
	for i, want := range []string{"err 5", "err 4", "err 3"} {
		if recent[i].Message != want {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].Message, want)
		}
	}
	if got := tr.Recent(1); len(got) != 1 || got[0].Message != "err 5" {
		t.Errorf("Recent(1) = %+v", got)
	}

	stats := tr.Stats()
	if stats.Total != 5 || stats.ByType[ErrorTypeDatabase] != 5 || stats.Recent != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestErrorTracker_UnknownTypeAndReset(t *testing.T) {
	tr := NewErrorTracker(0)
	tr.Track("weird", errors.New("x"), map[string]interface{}{"content_id": 1})
	tr.Track(ErrorTypeAPI, nil, nil)

	stats := tr.Stats()
	if stats.ByType[ErrorTypeOther] != 1 || stats.Total != 1 {
		t.Errorf("unknown types should count as other and nil errors are ignored: %+v", stats)
	}

	tr.Reset()
	if tr.Stats().Total != 0 || len(tr.Recent(0)) != 0 {
		t.Error("Reset should clear counters and history")
	}
}
