// Package feed loads JSON import files and drives them through the sync
// dispatcher: a one-shot batch import in dependency order, plus an
// incremental add/update/delete feed processed per dated batch directory.
package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

// FileStats is one feed file's import outcome.
type FileStats struct {
	File  string           `json:"file"`
	Kind  domain.Kind      `json:"kind"`
	Stats syncx.BatchStats `json:"stats"`
}

// Report aggregates a feed run. Files are listed in processing order.
type Report struct {
	Files []FileStats `json:"files"`
}

func (r *Report) add(file string, kind domain.Kind, stats syncx.BatchStats) {
	r.Files = append(r.Files, FileStats{File: file, Kind: kind, Stats: stats})
}

// Totals sums per-file stats into one batch view.
func (r *Report) Totals() syncx.BatchStats {
	var total syncx.BatchStats
	for _, f := range r.Files {
		total.Total += f.Stats.Total
		total.Succeeded += f.Stats.Succeeded
		total.Failed += f.Stats.Failed
		total.SecondaryFailures += f.Stats.SecondaryFailures
	}
	return total
}

type Runner struct {
	log  *logger.Logger
	disp *syncx.Dispatcher
}

func NewRunner(log *logger.Logger, disp *syncx.Dispatcher) *Runner {
	return &Runner{
		log:  log.With("service", "FeedRunner"),
		disp: disp,
	}
}

// Batch directory layout:
//
//	<dir>/common/institutions.json
//	<dir>/common/doctors.json
//	<dir>/common/projects.json
//	<dir>/common/products.json
//	<dir>/common/medical_relations.json
//	<dir>/institutions/<tenant-code>/customers.json
//	<dir>/institutions/<tenant-code>/consumption_records.json
var commonFiles = []struct {
	name string
	kind domain.Kind
}{
	{"institutions.json", domain.KindInstitution},
	{"doctors.json", domain.KindDoctor},
	{"projects.json", domain.KindProject},
	{"products.json", domain.KindProduct},
	{"medical_relations.json", domain.KindRelation},
}

var tenantFiles = []struct {
	name string
	kind domain.Kind
}{
	{"customers.json", domain.KindCustomer},
	{"consumption_records.json", domain.KindConsumption},
}

// ImportBatch runs a full initial import from dir. Files are processed in
// dependency order (shared catalog, then per-tenant bindings, then
// transactions) so that every reference resolves by the time it is needed.
// Missing files are skipped; bad records are counted and skipped without
// stopping the file.
func (r *Runner) ImportBatch(ctx context.Context, dir string) (*Report, error) {
	report := &Report{}

	commonDir := filepath.Join(dir, "common")
	for _, f := range commonFiles {
		if err := r.importFile(ctx, report, filepath.Join(commonDir, f.name), f.kind, ""); err != nil {
			return report, err
		}
	}

	tenantDirs, err := sortedSubdirs(filepath.Join(dir, "institutions"))
	if err != nil {
		return report, err
	}
	// All customer files import before any consumption file so every
	// order can resolve its customer binding.
	for _, f := range tenantFiles {
		for _, tenantDir := range tenantDirs {
			tenantCode := filepath.Base(tenantDir)
			if err := r.importFile(ctx, report, filepath.Join(tenantDir, f.name), f.kind, tenantCode); err != nil {
				return report, err
			}
		}
	}

	totals := report.Totals()
	r.log.Info(
		"batch import finished",
		"dir", dir,
		"files", len(report.Files),
		"total", totals.Total,
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"secondary_failures", totals.SecondaryFailures,
	)
	return report, nil
}

func (r *Runner) importFile(ctx context.Context, report *Report, path string, kind domain.Kind, tenantCode string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		r.log.Debug("feed file absent, skipping", "path", path)
		return nil
	}
	file, err := readFeedFile(path)
	if err != nil {
		r.log.Warn("feed file unreadable, skipping", "path", path, "error", err.Error())
		report.add(path, kind, syncx.BatchStats{})
		return nil
	}
	if file.tenantCode != "" {
		tenantCode = file.tenantCode
	}

	records, malformed := decodeItems(kind, file.items)
	for _, rec := range records {
		setTenant(rec, tenantCode)
		inferTenant(rec)
	}

	stats, err := r.disp.SyncBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("feed file %s: %w", path, err)
	}
	stats.Total += malformed
	stats.Failed += malformed
	if malformed > 0 {
		r.log.Warn("malformed records skipped", "path", path, "count", malformed)
	}

	report.add(path, kind, stats)
	r.log.Info(
		"feed file imported",
		"path", path,
		"kind", string(kind),
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return nil
}

func sortedSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func stemParts(path string) (stem, op string) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, suffix := range []string{"_add", "_update", "_delete"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix), strings.TrimPrefix(suffix, "_")
		}
	}
	return base, ""
}
