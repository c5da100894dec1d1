// Package jobstore persists the in-flight submission jobs that bridge the
// asynchronous gap between uploading candidates and reconciling results.
package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Job statuses. Completion has no status of its own: a reconciled job is
// deleted, so "done" is representable only as absence from the store.
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Progress is the last observed remote progress snapshot for a job.
type Progress struct {
	Percent   float64   `json:"percent"`
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// Columns records the column roles that were resolved when the file was
// submitted, so reconciliation does not depend on current configuration.
type Columns struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// Job is the tracked state of one submitted source file.
type Job struct {
	SourceFile       string    `json:"source_file"`
	ContentHash      string    `json:"content_hash"`
	RemoteJobID      int       `json:"remote_job_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
	Status           string    `json:"status"`
	Columns          Columns   `json:"columns,omitempty"`
	LastProgress     *Progress `json:"last_progress,omitempty"`
	DownloadFailures int       `json:"download_failures,omitempty"`
}

// DuplicateJobError reports an attempt to track a source file twice.
type DuplicateJobError struct {
	SourceFile string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("source file %q is already tracked", e.SourceFile)
}

// Store is a persisted map from source file name to its submission job.
// Single-writer: persistence is a whole-document load-then-replace with no
// file locking, so at most one process may use a state file at a time.
type Store struct {
	path string
	jobs map[string]Job
}

type document struct {
	Jobs map[string]Job `json:"jobs"`
}

// Load reads the state file at path, or starts empty when it does not exist.
func Load(path string) (*Store, error) {
	s := &Store{path: path, jobs: make(map[string]Job)}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if doc.Jobs != nil {
		s.jobs = doc.Jobs
	}
	return s, nil
}

// Save replaces the whole state document on disk. The write goes through a
// temp file and rename so a crash never leaves a partially written document.
func (s *Store) Save() error {
	b, err := json.MarshalIndent(document{Jobs: s.jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file %s: %w", s.path, err)
	}
	return nil
}

// Record tracks a new submission. It fails with *DuplicateJobError when the
// source file is already tracked; callers must check Tracked first when they
// want to skip silently.
func (s *Store) Record(job Job) error {
	if _, ok := s.jobs[job.SourceFile]; ok {
		return &DuplicateJobError{SourceFile: job.SourceFile}
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	s.jobs[job.SourceFile] = job
	return nil
}

// Tracked reports whether sourceFile has an active job.
func (s *Store) Tracked(sourceFile string) bool {
	_, ok := s.jobs[sourceFile]
	return ok
}

// Get returns the job for sourceFile.
func (s *Store) Get(sourceFile string) (Job, bool) {
	job, ok := s.jobs[sourceFile]
	return job, ok
}

// UpdateProgress overwrites the last progress snapshot and status of a
// tracked job. Unknown files are a no-op; the caller logs them.
func (s *Store) UpdateProgress(sourceFile string, p Progress) bool {
	job, ok := s.jobs[sourceFile]
	if !ok {
		return false
	}
	job.LastProgress = &p
	if p.Status == StatusFinished {
		job.Status = StatusFinished
	}
	s.jobs[sourceFile] = job
	return true
}

// Update replaces the whole job record for sourceFile. Unknown files are a
// no-op.
func (s *Store) Update(sourceFile string, job Job) bool {
	if _, ok := s.jobs[sourceFile]; !ok {
		return false
	}
	s.jobs[sourceFile] = job
	return true
}

// Remove deletes a job. Called only after reconciliation has produced output;
// deletion is the terminal "processed" state.
func (s *Store) Remove(sourceFile string) {
	delete(s.jobs, sourceFile)
}

// All returns every tracked job sorted by source file name, so run order is
// deterministic across invocations.
func (s *Store) All() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceFile < out[j].SourceFile })
	return out
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	return len(s.jobs)
}
