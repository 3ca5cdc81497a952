package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

// ProcessIncremental drains pending incremental batches. Each batch is a
// directory named by date (YYYY-MM-DD) under pendingDir containing
// {kind}_add.json / {kind}_update.json / {kind}_delete.json files. Batches
// run in lexical (chronological) order; a fully processed batch directory
// is moved under processedDir. When date is non-empty only that batch runs.
func (r *Runner) ProcessIncremental(ctx context.Context, pendingDir, processedDir, date string) (*Report, error) {
	var batchDirs []string
	if date != "" {
		batchDirs = []string{filepath.Join(pendingDir, date)}
	} else {
		var err error
		batchDirs, err = sortedSubdirs(pendingDir)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{}
	for _, batchDir := range batchDirs {
		if info, err := os.Stat(batchDir); err != nil || !info.IsDir() {
			continue
		}
		if err := r.processBatchDir(ctx, report, batchDir); err != nil {
			return report, err
		}
		if err := archiveBatch(batchDir, processedDir); err != nil {
			return report, fmt.Errorf("archive batch %s: %w", batchDir, err)
		}
		r.log.Info("incremental batch archived", "batch", filepath.Base(batchDir))
	}
	return report, nil
}

func (r *Runner) processBatchDir(ctx context.Context, report *Report, batchDir string) error {
	paths, err := filepath.Glob(filepath.Join(batchDir, "*.json"))
	if err != nil {
		return err
	}

	for _, path := range paths {
		stem, op := stemParts(path)
		kind, ok := kindForStem(stem)
		if !ok || op == "" {
			r.log.Warn("unrecognized incremental file, skipping", "path", path)
			continue
		}

		switch op {
		case "add", "update":
			if err := r.applyIncremental(ctx, report, path, kind, op == "update"); err != nil {
				return err
			}
		case "delete":
			if err := r.removeIncremental(ctx, report, path, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyIncremental routes adds and updates through the same upsert path.
// An update file carries partial records (optionally wrapped in an
// "updates" envelope per item); the store's merge rules decide which stored
// fields the partial values replace.
func (r *Runner) applyIncremental(ctx context.Context, report *Report, path string, kind domain.Kind, isUpdate bool) error {
	file, err := readFeedFile(path)
	if err != nil {
		r.log.Warn("feed file unreadable, skipping", "path", path, "error", err.Error())
		report.add(path, kind, syncx.BatchStats{})
		return nil
	}
	if isUpdate {
		for i, raw := range file.items {
			file.items[i] = flattenUpdate(raw)
		}
	}

	records, malformed := decodeItems(kind, file.items)
	for _, rec := range records {
		setTenant(rec, file.tenantCode)
		inferTenant(rec)
	}

	stats, err := r.disp.SyncBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("feed file %s: %w", path, err)
	}
	stats.Total += malformed
	stats.Failed += malformed

	report.add(path, kind, stats)
	r.log.Info(
		"incremental file applied",
		"path", path,
		"kind", string(kind),
		"update", isUpdate,
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return nil
}

// removeIncremental soft-deletes each listed record on the primary store
// and tombstones its secondary representations best-effort. Kinds the
// primary store refuses to remove count as failures, the file keeps going.
func (r *Runner) removeIncremental(ctx context.Context, report *Report, path string, kind domain.Kind) error {
	file, err := readFeedFile(path)
	if err != nil {
		r.log.Warn("feed file unreadable, skipping", "path", path, "error", err.Error())
		report.add(path, kind, syncx.BatchStats{})
		return nil
	}

	records, malformed := decodeItems(kind, file.items)
	for _, rec := range records {
		setTenant(rec, file.tenantCode)
		inferTenant(rec)
	}

	stats := syncx.BatchStats{Total: len(records) + malformed, Failed: malformed}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := r.disp.Remove(ctx, rec)
		if err != nil {
			stats.Failed++
			r.log.Warn(
				"record removal skipped",
				"kind", string(rec.RecordKind()),
				"key", rec.NaturalKey(),
				"error", err.Error(),
			)
			continue
		}
		stats.Succeeded++
		stats.SecondaryFailures += result.Failed()
	}

	report.add(path, kind, stats)
	r.log.Info(
		"incremental file removed",
		"path", path,
		"kind", string(kind),
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return nil
}

// archiveBatch moves a processed batch directory under processedDir. A name
// collision gets a time suffix rather than overwriting an earlier archive.
func archiveBatch(batchDir, processedDir string) error {
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(processedDir, filepath.Base(batchDir))
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s_%s", dest, time.Now().Format("150405"))
	}
	return os.Rename(batchDir, dest)
}
