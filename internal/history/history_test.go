package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"postbot/pkg/logx"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{Path: filepath.Join(t.TempDir(), "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	now := time.Now()
	entries := []Entry{
		{UserID: 1, Plan: "text", Status: StatusSent, At: now.Add(-2 * time.Hour)},
		{UserID: 1, Plan: "album", Items: 3, CaptionLen: 5, Scheduled: true, Status: StatusSent, At: now.Add(-time.Hour)},
		{UserID: 1, Plan: "single", Items: 1, Status: StatusFailed, Error: "network", At: now},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Plan != "single" || got[0].Status != StatusFailed || got[0].Error != "network" {
		t.Fatalf("newest entry mismatch: %+v", got[0])
	}
	if got[1].Plan != "album" || !got[1].Scheduled || got[1].Items != 3 {
		t.Fatalf("second entry mismatch: %+v", got[1])
	}
	if got[0].ID == "" {
		t.Fatal("entry ID not assigned")
	}
}

func TestRecentOrdersSubsecondTimestamps(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	// A whole-second timestamp and a fractional one inside the same
	// second must still order by actual time.
	sec := time.Date(2026, 9, 1, 10, 0, 1, 0, time.UTC)
	older := Entry{UserID: 1, Plan: "text", Status: StatusSent, At: sec}
	newer := Entry{UserID: 1, Plan: "single", Items: 1, Status: StatusSent, At: sec.Add(500 * time.Millisecond)}

	if err := j.Append(ctx, newer); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, older); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries, want 2", len(got))
	}
	if got[0].Plan != "single" {
		t.Fatalf("Recent[0] = %s (at=%s), want the fractional-second entry first", got[0].Plan, got[0].At)
	}
	if !got[0].At.Equal(sec.Add(500 * time.Millisecond)) {
		t.Fatalf("timestamp lost precision: %s", got[0].At)
	}
}

func TestPruneBoundarySubsecond(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	now := time.Now()
	inside := Entry{UserID: 1, Plan: "text", Status: StatusSent, At: now.Add(-24*time.Hour + 300*time.Millisecond)}
	outside := Entry{UserID: 1, Plan: "album", Items: 2, Status: StatusSent, At: now.Add(-24*time.Hour - 300*time.Millisecond)}
	if err := j.Append(ctx, inside); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, outside); err != nil {
		t.Fatalf("Append: %v", err)
	}

	removed, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d rows, want 1", removed)
	}
	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Plan != "text" {
		t.Fatalf("remaining = %+v, want the inside-window entry", got)
	}
}

func TestPrune(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	if err := j.Append(ctx, Entry{UserID: 1, Plan: "text", Status: StatusSent, At: time.Now().Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, Entry{UserID: 1, Plan: "text", Status: StatusSent, At: time.Now()}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	removed, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d rows, want 1", removed)
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(got))
	}
}
