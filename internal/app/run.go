// Package app orchestrates one pipeline invocation: reconcile tracked jobs,
// then discover and submit new source files.
package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/shpitdev/mailprospect/internal/config"
	"github.com/shpitdev/mailprospect/internal/encode"
	"github.com/shpitdev/mailprospect/internal/jobstore"
	"github.com/shpitdev/mailprospect/internal/reconcile"
	"github.com/shpitdev/mailprospect/internal/rows"
	"github.com/shpitdev/mailprospect/pkg/redact"
	"github.com/shpitdev/mailprospect/pkg/verifier"
)

// maxDownloadFailures is how many consecutive failed downloads of a finished
// remote job are tolerated before the job is parked as failed.
const maxDownloadFailures = 5

// Runner executes pipeline invocations against one configuration and service.
type Runner struct {
	cfg    config.Config
	svc    verifier.Service
	logger *log.Logger
}

// NewRunner wires a runner. The service is an interface so tests and the
// local harness can substitute the mock.
func NewRunner(cfg config.Config, svc verifier.Service, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{cfg: cfg, svc: svc, logger: logger}
}

// Run performs one invocation: poll-and-reconcile every tracked job, then
// discover-and-submit every untracked source file. The job store is persisted
// after every mutation. Per-file failures are logged and skipped; only store
// access failures are returned.
func (r *Runner) Run(ctx context.Context) error {
	runLog := r.logger.With("run", uuid.New().String())

	store, err := jobstore.Load(r.cfg.StateFile)
	if err != nil {
		return fmt.Errorf("load job store: %w", err)
	}
	runLog.Info("run start", "tracked", store.Len())

	if err := r.reconcileTracked(ctx, store, runLog); err != nil {
		return err
	}
	if err := r.submitNew(ctx, store, runLog); err != nil {
		return err
	}

	runLog.Info("run complete", "tracked", store.Len())
	return nil
}

func (r *Runner) reconcileTracked(ctx context.Context, store *jobstore.Store, runLog *log.Logger) error {
	for _, job := range store.All() {
		fileLog := runLog.With("file", job.SourceFile, "remote_id", job.RemoteJobID)

		if job.Status == jobstore.StatusFailed {
			fileLog.Warn("skipping failed job; remove it from the state file to retry")
			continue
		}

		sourcePath := filepath.Join(r.cfg.InputDir, job.SourceFile)
		if err := r.checkSource(sourcePath, job, fileLog); err != nil {
			continue
		}

		p, err := r.svc.Progress(ctx, job.RemoteJobID)
		if err != nil {
			fileLog.Error("progress check failed", "err", redact.Secrets(err.Error()))
			continue
		}
		store.UpdateProgress(job.SourceFile, jobstore.Progress{
			Percent:   p.Percent,
			Status:    p.Status,
			CheckedAt: time.Now().UTC(),
		})
		if err := store.Save(); err != nil {
			return fmt.Errorf("save job store: %w", err)
		}
		fileLog.Info("progress", "status", p.Status, "percent", p.Percent,
			"credits_charged", p.CreditsCharged, "credits_returned", p.CreditsReturned)

		if p.Status != verifier.StatusFinished {
			continue
		}

		if err := r.reconcileOne(ctx, store, job, sourcePath, fileLog); err != nil {
			return err
		}
	}
	return nil
}

// reconcileOne downloads and merges one finished job. Returns an error only
// for store persistence failures; service and file problems are logged.
func (r *Runner) reconcileOne(ctx context.Context, store *jobstore.Store, job jobstore.Job, sourcePath string, fileLog *log.Logger) error {
	payload, err := r.svc.Download(ctx, job.RemoteJobID)
	if err != nil {
		fileLog.Error("download failed", "err", redact.Secrets(err.Error()))
		current, ok := store.Get(job.SourceFile)
		if !ok {
			return nil
		}
		current.DownloadFailures++
		if current.DownloadFailures >= maxDownloadFailures {
			current.Status = jobstore.StatusFailed
			fileLog.Error("too many download failures; parking job as failed",
				"failures", current.DownloadFailures)
		}
		store.Update(job.SourceFile, current)
		if err := store.Save(); err != nil {
			return fmt.Errorf("save job store: %w", err)
		}
		return nil
	}

	var diag reconcile.Diagnostics
	grouping := reconcile.ParseResults(payload, &diag)
	if len(diag.Skipped) > 0 {
		fileLog.Warn("result payload had malformed lines", "skipped", len(diag.Skipped))
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		fileLog.Error("open source for merge failed", "err", err)
		return nil
	}
	header, all, err := rows.ReadAll(f)
	_ = f.Close()
	if err != nil {
		fileLog.Error("read source for merge failed", "err", err)
		return nil
	}

	outHeader, merged := reconcile.Merge(header, all, grouping)
	outPath := filepath.Join(r.cfg.OutputDir, OutputName(job.SourceFile))
	if err := writeCSVFile(outPath, outHeader, merged); err != nil {
		fileLog.Error("write output failed", "err", err)
		return nil
	}

	store.Remove(job.SourceFile)
	if err := store.Save(); err != nil {
		return fmt.Errorf("save job store: %w", err)
	}
	fileLog.Info("reconciled", "output", outPath, "rows", len(merged), "verified_lines", len(grouping))
	return nil
}

func (r *Runner) submitNew(ctx context.Context, store *jobstore.Store, runLog *log.Logger) error {
	entries, err := os.ReadDir(r.cfg.InputDir)
	if err != nil {
		return fmt.Errorf("read input dir %s: %w", r.cfg.InputDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		fileLog := runLog.With("file", name)

		if store.Tracked(name) {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.cfg.OutputDir, OutputName(name))); err == nil {
			fileLog.Debug("output already exists; skipping")
			continue
		}

		if err := r.submitOne(ctx, store, name, fileLog); err != nil {
			return err
		}
	}
	return nil
}

// submitOne encodes and uploads one source file. Returns an error only for
// store persistence failures.
func (r *Runner) submitOne(ctx context.Context, store *jobstore.Store, name string, fileLog *log.Logger) error {
	sourcePath := filepath.Join(r.cfg.InputDir, name)
	f, err := os.Open(sourcePath)
	if err != nil {
		fileLog.Error("open source failed", "err", err)
		return nil
	}

	h := sha256.New()
	var buf bytes.Buffer
	_, stats, err := encode.File(io.TeeReader(f, h), &buf, r.cfg.ColumnNames(), r.cfg.Templates)
	_ = f.Close()
	if err != nil {
		fileLog.Error("encode failed", "err", err)
		return nil
	}
	if stats.Candidates == 0 {
		fileLog.Warn("no candidates generated; skipping submission", "rows", stats.Rows)
		return nil
	}

	remoteID, err := r.svc.Upload(ctx, name, buf.Bytes())
	if err != nil {
		fileLog.Error("upload failed", "err", redact.Secrets(err.Error()))
		return nil
	}

	job := jobstore.Job{
		SourceFile:  name,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
		RemoteJobID: remoteID,
		SubmittedAt: time.Now().UTC(),
		Status:      jobstore.StatusPending,
		Columns: jobstore.Columns{
			FirstName: r.cfg.Columns.FirstName,
			LastName:  r.cfg.Columns.LastName,
			Domain:    r.cfg.Columns.Domain,
		},
	}
	if err := store.Record(job); err != nil {
		fileLog.Error("record submission failed", "err", err)
		return nil
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("save job store: %w", err)
	}
	fileLog.Info("submitted", "remote_id", remoteID, "rows", stats.Rows, "candidates", stats.Candidates)
	return nil
}

// checkSource verifies the tracked source file still exists with the content
// that was submitted. A renamed-away or rewritten file leaves the job parked
// until the operator intervenes.
func (r *Runner) checkSource(sourcePath string, job jobstore.Job, fileLog *log.Logger) error {
	hash, err := fileSHA256(sourcePath)
	if err != nil {
		fileLog.Warn("tracked source file is unreadable; leaving job untouched", "err", err)
		return err
	}
	if job.ContentHash != "" && hash != job.ContentHash {
		fileLog.Warn("tracked source file changed since submission; leaving job untouched")
		return fmt.Errorf("content hash mismatch for %s", sourcePath)
	}
	return nil
}

// OutputName maps a source file name to its enriched output file name.
func OutputName(sourceFile string) string {
	stem := strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile))
	return stem + "-verified.csv"
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeCSVFile(path string, header []string, all []rows.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	var buf bytes.Buffer
	if err := rows.WriteAll(&buf, header, all); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".out-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Chmod(path, 0o644)
}
