package feed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

type fakePrimary struct {
	mu       sync.Mutex
	upserts  []domain.Record
	removes  []domain.Record
	failKeys map[string]bool
}

func (f *fakePrimary) Upsert(ctx context.Context, rec domain.Record) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[rec.NaturalKey()] {
		return domain.Receipt{}, &syncerr.PrimaryWriteError{
			Kind:  string(rec.RecordKind()),
			Key:   rec.NaturalKey(),
			Cause: syncerr.ErrInvalidArgument,
		}
	}
	f.upserts = append(f.upserts, rec)
	return domain.Receipt{PrimaryID: uuid.New()}, nil
}

func (f *fakePrimary) Remove(ctx context.Context, rec domain.Record) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.RecordKind() != domain.KindCustomer {
		return domain.Receipt{}, &syncerr.PrimaryWriteError{
			Kind:  string(rec.RecordKind()),
			Key:   rec.NaturalKey(),
			Cause: syncerr.ErrInvalidArgument,
		}
	}
	f.removes = append(f.removes, rec)
	return domain.Receipt{PrimaryID: uuid.New()}, nil
}

func (f *fakePrimary) upsertKinds() []domain.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]domain.Kind, len(f.upserts))
	for i, rec := range f.upserts {
		kinds[i] = rec.RecordKind()
	}
	return kinds
}

type countingAdapter struct {
	mu      sync.Mutex
	applies int
	removes int
}

func (a *countingAdapter) Name() string { return "counting" }

func (a *countingAdapter) Apply(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applies++
	return nil
}

func (a *countingAdapter) Remove(ctx context.Context, rec domain.Record, receipt domain.Receipt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removes++
	return nil
}

func newRunner(t *testing.T, fp *fakePrimary, adapters ...syncx.Adapter) *Runner {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewRunner(log, syncx.NewDispatcher(log, fp, adapters))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestImportBatchRunsInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "common", "institutions.json"),
		`[{"institution_code": "BJ001", "name": "北京医美一院"}]`)
	writeFile(t, filepath.Join(dir, "common", "doctors.json"),
		`[{"doctor_code": "DOC-001", "name": "Wang", "institution_code": "BJ001"}]`)
	writeFile(t, filepath.Join(dir, "common", "projects.json"),
		`[{"project_code": "PRJ-001", "name": "Laser"}]`)
	writeFile(t, filepath.Join(dir, "common", "products.json"),
		`[{"product_code": "PRD-001", "name": "Filler"}]`)
	writeFile(t, filepath.Join(dir, "common", "medical_relations.json"),
		`[{"source_type": "PROJECT", "source_code": "PRJ-001", "target_type": "PRODUCT", "target_code": "PRD-001", "relation_type": "COMBINATION"}]`)
	writeFile(t, filepath.Join(dir, "institutions", "BJ001", "customers.json"),
		`[{"customer_code": "BJ001-C0001", "person": {"name": "Li", "phone": "13911110001"}}]`)
	writeFile(t, filepath.Join(dir, "institutions", "BJ001", "consumption_records.json"),
		`[{"order_number": "BJ001-ORD-20260101-0001", "customer_code": "BJ001-C0001", "project_code": "PRJ-001", "order_date": "2026-01-01", "actual_amount": 1200}]`)

	fp := &fakePrimary{}
	adapter := &countingAdapter{}
	runner := newRunner(t, fp, adapter)

	report, err := runner.ImportBatch(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	if len(report.Files) != 7 {
		t.Fatalf("expected 7 file stats, got %d", len(report.Files))
	}
	totals := report.Totals()
	if totals.Total != 7 || totals.Succeeded != 7 || totals.Failed != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	want := []domain.Kind{
		domain.KindInstitution, domain.KindDoctor, domain.KindProject,
		domain.KindProduct, domain.KindRelation, domain.KindCustomer,
		domain.KindConsumption,
	}
	got := fp.upsertKinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d upserts, got %d", len(want), len(got))
	}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("upsert %d: expected kind %s, got %s", i, k, got[i])
		}
	}
	if adapter.applies != 7 {
		t.Fatalf("expected 7 adapter applies, got %d", adapter.applies)
	}
}

func TestImportBatchFillsTenantFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "institutions", "BJ001", "customers.json"),
		`[{"customer_code": "C0001", "person": {"name": "Li", "phone": "13911110002"}}]`)

	fp := &fakePrimary{}
	runner := newRunner(t, fp)

	if _, err := runner.ImportBatch(context.Background(), dir); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	if len(fp.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(fp.upserts))
	}
	cust, ok := fp.upserts[0].(*domain.CustomerRecord)
	if !ok {
		t.Fatalf("expected customer record, got %T", fp.upserts[0])
	}
	if cust.InstitutionCode != "BJ001" {
		t.Fatalf("expected tenant BJ001 from directory name, got %q", cust.InstitutionCode)
	}
}

func TestImportBatchContinuesPastBadRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "common", "projects.json"),
		`[{"project_code": "PRJ-001", "name": "Laser"}, 42, {"project_code": "PRJ-BAD", "name": "Broken"}]`)

	fp := &fakePrimary{failKeys: map[string]bool{"PRJ-BAD": true}}
	runner := newRunner(t, fp)

	report, err := runner.ImportBatch(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	totals := report.Totals()
	if totals.Total != 3 || totals.Succeeded != 1 || totals.Failed != 2 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if len(fp.upserts) != 1 || fp.upserts[0].NaturalKey() != "PRJ-001" {
		t.Fatalf("expected only PRJ-001 to land, got %d upserts", len(fp.upserts))
	}
}

func TestImportBatchSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "common", "projects.json"),
		`[{"project_code": "PRJ-001", "name": "Laser"}]`)

	fp := &fakePrimary{}
	runner := newRunner(t, fp)

	report, err := runner.ImportBatch(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(report.Files) != 1 {
		t.Fatalf("expected 1 file stat, got %d", len(report.Files))
	}
	if report.Files[0].Kind != domain.KindProject {
		t.Fatalf("expected project file, got %s", report.Files[0].Kind)
	}
}

func TestParseFeedFileAcceptsEnvelopeAndSingleObject(t *testing.T) {
	file, err := parseFeedFile([]byte(`{"institution_code": "BJ001", "data": [{"customer_code": "C0001"}, {"customer_code": "C0002"}]}`))
	if err != nil {
		t.Fatalf("envelope parse: %v", err)
	}
	if file.tenantCode != "BJ001" || len(file.items) != 2 {
		t.Fatalf("unexpected envelope result: tenant=%q items=%d", file.tenantCode, len(file.items))
	}

	file, err = parseFeedFile([]byte(`{"project_code": "PRJ-001"}`))
	if err != nil {
		t.Fatalf("single object parse: %v", err)
	}
	if len(file.items) != 1 {
		t.Fatalf("expected single object to become one item, got %d", len(file.items))
	}
}

func TestFlattenUpdateMergesPartialFields(t *testing.T) {
	out := flattenUpdate([]byte(`{"customer_code": "BJ001-C0001", "updates": {"vip_level": "GOLD"}}`))

	records, malformed := decodeItems(domain.KindCustomer, []json.RawMessage{out})
	if malformed != 0 || len(records) != 1 {
		t.Fatalf("decode after flatten: malformed=%d records=%d", malformed, len(records))
	}
	cust := records[0].(*domain.CustomerRecord)
	if cust.CustomerCode != "BJ001-C0001" || cust.VIPLevel != "GOLD" {
		t.Fatalf("unexpected flattened record: %+v", cust)
	}
	if cust.Status != "" {
		t.Fatalf("fields outside the update set must stay empty, got status %q", cust.Status)
	}
}

func TestInferTenantFromEmbeddedCodes(t *testing.T) {
	cust := &domain.CustomerRecord{CustomerCode: "BJ-HA-001-C0001"}
	inferTenant(cust)
	if cust.InstitutionCode != "BJ-HA-001" {
		t.Fatalf("expected BJ-HA-001 from customer code, got %q", cust.InstitutionCode)
	}

	order := &domain.ConsumptionRecordInput{OrderNumber: "BJ-HA-001-ORD-20260115-0001"}
	inferTenant(order)
	if order.InstitutionCode != "BJ-HA-001" {
		t.Fatalf("expected BJ-HA-001 from order number, got %q", order.InstitutionCode)
	}
}

func TestProcessIncrementalAppliesAndArchives(t *testing.T) {
	root := t.TempDir()
	pending := filepath.Join(root, "pending")
	processed := filepath.Join(root, "processed")
	batch := filepath.Join(pending, "2026-02-01")

	writeFile(t, filepath.Join(batch, "customers_add.json"),
		`{"institution_code": "BJ001", "data": [{"customer_code": "C0100", "person": {"name": "Zhao", "phone": "13911110100"}}]}`)
	writeFile(t, filepath.Join(batch, "projects_update.json"),
		`[{"project_code": "PRJ-001", "updates": {"name": "Laser v2"}}]`)
	writeFile(t, filepath.Join(batch, "customers_delete.json"),
		`[{"customer_code": "BJ001-C0002"}]`)

	fp := &fakePrimary{}
	adapter := &countingAdapter{}
	runner := newRunner(t, fp, adapter)

	report, err := runner.ProcessIncremental(context.Background(), pending, processed, "")
	if err != nil {
		t.Fatalf("ProcessIncremental: %v", err)
	}

	totals := report.Totals()
	if totals.Total != 3 || totals.Succeeded != 3 || totals.Failed != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	if len(fp.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(fp.upserts))
	}
	var sawUpdatedProject bool
	for _, rec := range fp.upserts {
		if p, ok := rec.(*domain.ProjectRecord); ok {
			sawUpdatedProject = true
			if p.Name != "Laser v2" {
				t.Fatalf("update envelope not flattened, name %q", p.Name)
			}
		}
	}
	if !sawUpdatedProject {
		t.Fatalf("project update never reached the primary store")
	}

	if len(fp.removes) != 1 {
		t.Fatalf("expected 1 remove, got %d", len(fp.removes))
	}
	removed := fp.removes[0].(*domain.CustomerRecord)
	if removed.InstitutionCode != "BJ001" {
		t.Fatalf("expected tenant inferred for deleted customer, got %q", removed.InstitutionCode)
	}
	if adapter.removes != 1 {
		t.Fatalf("expected tombstone fan-out, got %d adapter removes", adapter.removes)
	}

	if _, err := os.Stat(batch); !os.IsNotExist(err) {
		t.Fatalf("batch dir should be archived away, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(processed, "2026-02-01")); err != nil {
		t.Fatalf("archived batch missing: %v", err)
	}
}

func TestProcessIncrementalDeleteUnsupportedKind(t *testing.T) {
	root := t.TempDir()
	pending := filepath.Join(root, "pending")
	writeFile(t, filepath.Join(pending, "2026-02-02", "doctors_delete.json"),
		`[{"doctor_code": "DOC-001"}]`)

	fp := &fakePrimary{}
	runner := newRunner(t, fp)

	report, err := runner.ProcessIncremental(context.Background(), pending, filepath.Join(root, "processed"), "")
	if err != nil {
		t.Fatalf("ProcessIncremental: %v", err)
	}

	totals := report.Totals()
	if totals.Total != 1 || totals.Failed != 1 || totals.Succeeded != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if len(fp.removes) != 0 {
		t.Fatalf("no remove should land for unsupported kind, got %d", len(fp.removes))
	}
}

func TestProcessIncrementalDateFilter(t *testing.T) {
	root := t.TempDir()
	pending := filepath.Join(root, "pending")
	processed := filepath.Join(root, "processed")

	writeFile(t, filepath.Join(pending, "2026-02-01", "projects_add.json"),
		`[{"project_code": "PRJ-001", "name": "Laser"}]`)
	writeFile(t, filepath.Join(pending, "2026-02-02", "projects_add.json"),
		`[{"project_code": "PRJ-002", "name": "Peel"}]`)

	fp := &fakePrimary{}
	runner := newRunner(t, fp)

	report, err := runner.ProcessIncremental(context.Background(), pending, processed, "2026-02-01")
	if err != nil {
		t.Fatalf("ProcessIncremental: %v", err)
	}
	if totals := report.Totals(); totals.Succeeded != 1 {
		t.Fatalf("expected only the selected batch, totals %+v", totals)
	}

	if _, err := os.Stat(filepath.Join(pending, "2026-02-02")); err != nil {
		t.Fatalf("unselected batch must stay pending: %v", err)
	}
	if _, err := os.Stat(filepath.Join(processed, "2026-02-01")); err != nil {
		t.Fatalf("selected batch not archived: %v", err)
	}
}
