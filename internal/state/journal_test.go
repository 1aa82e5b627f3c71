// internal/state/journal_test.go
package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/user/coredelegate/internal/types"
)

func TestRunJournal(t *testing.T) {
	dir := t.TempDir()
	journal := NewRunJournal(dir)
	ctx := context.Background()

	for i, status := range []types.RunStatus{types.RunSucceeded, types.RunFailed, types.RunTimedOut} {
		rec := &types.RunRecord{
			Job:        "CoreSyncCron",
			SiteID:     "site1",
			Status:     status,
			StartedAt:  time.Now(),
			DurationMS: int64(i),
		}
		if err := journal.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if rec.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, rec.Seq)
		}
	}

	recs, err := journal.Tail(ctx, "CoreSyncCron", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Status != types.RunFailed || recs[1].Status != types.RunTimedOut {
		t.Errorf("unexpected tail order: %s, %s", recs[0].Status, recs[1].Status)
	}

	recs, err = journal.Tail(ctx, "unknown", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestRunJournal_JobNameWithSlash(t *testing.T) {
	journal := NewRunJournal(t.TempDir())
	ctx := context.Background()

	if err := journal.Append(ctx, &types.RunRecord{Job: "mod/forum", Status: types.RunSucceeded}); err != nil {
		t.Fatal(err)
	}
	recs, err := journal.Tail(ctx, "mod/forum", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}
}

func TestRunJournal_SeqContinuesAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewRunJournal(dir)
	for range 2 {
		if err := first.Append(ctx, &types.RunRecord{Job: "CoreSyncCron", Status: types.RunSucceeded}); err != nil {
			t.Fatal(err)
		}
	}

	second := NewRunJournal(dir)
	rec := &types.RunRecord{Job: "CoreSyncCron", Status: types.RunSucceeded}
	if err := second.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 3 {
		t.Errorf("expected seq 3, got %d", rec.Seq)
	}
}

func TestRunJournal_AppendDoesNotRereadFile(t *testing.T) {
	journal := NewRunJournal(t.TempDir())
	ctx := context.Background()

	if err := journal.Append(ctx, &types.RunRecord{Job: "CoreSyncCron", Status: types.RunSucceeded}); err != nil {
		t.Fatal(err)
	}
	// A line that cannot be parsed would fail a full re-read.
	f, err := os.OpenFile(journal.path("CoreSyncCron"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rec := &types.RunRecord{Job: "CoreSyncCron", Status: types.RunFailed}
	if err := journal.Append(ctx, rec); err != nil {
		t.Fatalf("append after first record: %v", err)
	}
	if rec.Seq != 2 {
		t.Errorf("expected seq 2, got %d", rec.Seq)
	}
}
