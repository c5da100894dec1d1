package jobstore_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shpitdev/mailprospect/internal/jobstore"
)

func newStore(t *testing.T) (*jobstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "jobs.json")
	s, err := jobstore.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, path
}

func TestRecord(t *testing.T) {
	t.Run("duplicate source file is a typed error", func(t *testing.T) {
		s, _ := newStore(t)
		job := jobstore.Job{SourceFile: "leads.csv", RemoteJobID: 7}
		if err := s.Record(job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := s.Record(job)
		var dup *jobstore.DuplicateJobError
		if !errors.As(err, &dup) || dup.SourceFile != "leads.csv" {
			t.Fatalf("expected DuplicateJobError, got %v", err)
		}
	})

	t.Run("defaults status to pending", func(t *testing.T) {
		s, _ := newStore(t)
		if err := s.Record(jobstore.Job{SourceFile: "a.csv"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		job, ok := s.Get("a.csv")
		if !ok || job.Status != jobstore.StatusPending {
			t.Fatalf("unexpected job: %#v", job)
		}
	})
}

func TestPersistenceRoundtrip(t *testing.T) {
	s, path := newStore(t)
	submitted := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	job := jobstore.Job{
		SourceFile:  "leads.csv",
		ContentHash: "abc123",
		RemoteJobID: 42,
		SubmittedAt: submitted,
		Status:      jobstore.StatusPending,
		Columns:     jobstore.Columns{FirstName: "First Name", Domain: "Website"},
	}
	if err := s.Record(job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.UpdateProgress("leads.csv", jobstore.Progress{Percent: 55, Status: "in_progress", CheckedAt: submitted}) {
		t.Fatalf("expected update to apply")
	}
	if err := s.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := jobstore.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := reloaded.Get("leads.csv")
	if !ok {
		t.Fatalf("job missing after reload")
	}
	if got.RemoteJobID != 42 || got.ContentHash != "abc123" || got.Columns.Domain != "Website" {
		t.Fatalf("unexpected job: %#v", got)
	}
	if got.LastProgress == nil || got.LastProgress.Percent != 55 {
		t.Fatalf("unexpected progress: %#v", got.LastProgress)
	}
	if !got.SubmittedAt.Equal(submitted) {
		t.Fatalf("unexpected submitted time: %v", got.SubmittedAt)
	}
}

func TestUpdateProgress(t *testing.T) {
	t.Run("unknown file is a no-op", func(t *testing.T) {
		s, _ := newStore(t)
		if s.UpdateProgress("ghost.csv", jobstore.Progress{Percent: 10}) {
			t.Fatalf("expected no-op")
		}
	})

	t.Run("finished progress flips job status", func(t *testing.T) {
		s, _ := newStore(t)
		if err := s.Record(jobstore.Job{SourceFile: "a.csv"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s.UpdateProgress("a.csv", jobstore.Progress{Percent: 100, Status: jobstore.StatusFinished})
		job, _ := s.Get("a.csv")
		if job.Status != jobstore.StatusFinished {
			t.Fatalf("unexpected status: %q", job.Status)
		}
	})
}

func TestRemove(t *testing.T) {
	s, path := newStore(t)
	if err := s.Record(jobstore.Job{SourceFile: "a.csv"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Remove("a.csv")
	if s.Tracked("a.csv") {
		t.Fatalf("expected removal")
	}
	if err := s.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded, err := jobstore.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Len() != 0 {
		t.Fatalf("expected empty store, got %d jobs", reloaded.Len())
	}
}

func TestAllIsSorted(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"c.csv", "a.csv", "b.csv"} {
		if err := s.Record(jobstore.Job{SourceFile: name}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	all := s.All()
	if len(all) != 3 || all[0].SourceFile != "a.csv" || all[2].SourceFile != "c.csv" {
		t.Fatalf("unexpected order: %#v", all)
	}
}

func TestSaveIsWholeDocumentReplace(t *testing.T) {
	s, path := newStore(t)
	if err := s.Record(jobstore.Job{SourceFile: "a.csv"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No stray temp files should remain next to the state file.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "jobs.json" {
		t.Fatalf("unexpected dir contents: %#v", entries)
	}
}
