package primary_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/data/testutil"
	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/identity"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
)

const testTenant = "ZZ-STORE-001"

func newStore(t *testing.T) primary.Store {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	tables := identity.NewTenantTableSet(testTenant)
	testutil.DropTenantTables(t, db, tables.All())
	t.Cleanup(func() {
		testutil.DropTenantTables(t, db, tables.All())
		db.Exec("DELETE FROM catalog_relation")
		db.Exec("DELETE FROM natural_person WHERE phone LIKE '139000%'")
		db.Exec("DELETE FROM doctor WHERE doctor_code LIKE 'ZZ-DOC%'")
		db.Exec("DELETE FROM project WHERE project_code LIKE 'ZZ-PROJ%'")
		db.Exec("DELETE FROM product WHERE product_code LIKE 'ZZ-PROD%'")
		db.Exec("DELETE FROM institution WHERE institution_code = ?", testTenant)
	})

	prov := tenant.NewProvisioner(db, log, tenant.NewCache())
	return primary.NewStore(db, log, prov, []string{testTenant})
}

func upsertTestCustomer(t *testing.T, store primary.Store, code, phone, firstVisit string) domain.Receipt {
	t.Helper()
	receipt, err := store.Upsert(context.Background(), &domain.CustomerRecord{
		InstitutionCode: testTenant,
		CustomerCode:    code,
		Person: domain.PersonRecord{
			Name:     "Test Customer",
			Phone:    phone,
			Gender:   "FEMALE",
			Birthday: "1990-06-15",
		},
		FirstVisitDate: firstVisit,
	})
	if err != nil {
		t.Fatalf("upsert customer %s: %v", code, err)
	}
	return receipt
}

func TestUpsertInstitutionMintsStableID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := &domain.InstitutionRecord{InstitutionCode: testTenant, Name: "Test Clinic"}
	first, err := store.Upsert(ctx, rec)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.PrimaryID == uuid.Nil {
		t.Fatal("expected non-nil institution id")
	}

	rec.Name = "Renamed Clinic"
	second, err := store.Upsert(ctx, rec)
	if err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}
	if second.PrimaryID != first.PrimaryID {
		t.Fatalf("id changed across upserts: %s vs %s", first.PrimaryID, second.PrimaryID)
	}
}

func TestUpsertDoctorCreatesTenantBinding(t *testing.T) {
	store := newStore(t)
	db := testutil.DB(t)
	ctx := context.Background()

	receipt, err := store.Upsert(ctx, &domain.DoctorRecord{
		DoctorCode:      "ZZ-DOC-001",
		Name:            "Dr. Test",
		InstitutionCode: testTenant,
		Specialty:       []string{"dermatology"},
	})
	if err != nil {
		t.Fatalf("Upsert doctor: %v", err)
	}

	tables := identity.NewTenantTableSet(testTenant)
	var count int64
	err = db.Raw(fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE doctor_id = ?", tables.DoctorBindings,
	), receipt.PrimaryID).Scan(&count).Error
	if err != nil {
		t.Fatalf("count bindings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 doctor binding, got %d", count)
	}
}

func TestCustomerFirstVisitDateMerge(t *testing.T) {
	store := newStore(t)
	db := testutil.DB(t)
	const code = testTenant + "-C0001"
	tables := identity.NewTenantTableSet(testTenant)

	readFirstVisit := func() sql.NullTime {
		var v sql.NullTime
		row := db.Raw(fmt.Sprintf(
			"SELECT first_visit_date FROM %s WHERE customer_code = ?", tables.Customers,
		), code).Row()
		if err := row.Scan(&v); err != nil {
			t.Fatalf("read first_visit_date: %v", err)
		}
		return v
	}

	// Absent on create: stored NULL.
	upsertTestCustomer(t, store, code, "13900000001", "")
	if v := readFirstVisit(); v.Valid {
		t.Fatalf("expected NULL first_visit_date, got %v", v.Time)
	}

	// Supplied on a previously-null field: set.
	upsertTestCustomer(t, store, code, "13900000001", "2025-01-01")
	if v := readFirstVisit(); !v.Valid {
		t.Fatal("first_visit_date not set by second upsert")
	}

	// Omitted again: the stored value survives.
	upsertTestCustomer(t, store, code, "13900000001", "")
	if v := readFirstVisit(); !v.Valid {
		t.Fatal("first_visit_date blanked by an upsert that omitted it")
	}
}

func TestCustomerUniquenessPerTenantPerson(t *testing.T) {
	store := newStore(t)
	db := testutil.DB(t)
	const code = testTenant + "-C0002"
	tables := identity.NewTenantTableSet(testTenant)

	first := upsertTestCustomer(t, store, code, "13900000002", "")
	second := upsertTestCustomer(t, store, code, "13900000002", "")
	if first.PrimaryID != second.PrimaryID {
		t.Fatalf("duplicate customer ids: %s vs %s", first.PrimaryID, second.PrimaryID)
	}

	var count int64
	err := db.Raw(fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE person_id = ?", tables.Customers,
	), first.PersonID).Scan(&count).Error
	if err != nil {
		t.Fatalf("count customers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 customer row, got %d", count)
	}
}

func TestConsumptionUnresolvedBindingIsFatal(t *testing.T) {
	store := newStore(t)
	db := testutil.DB(t)
	ctx := context.Background()
	const code = testTenant + "-C0003"
	tables := identity.NewTenantTableSet(testTenant)

	receipt := upsertTestCustomer(t, store, code, "13900000003", "")

	_, err := store.Upsert(ctx, &domain.ConsumptionRecordInput{
		InstitutionCode: testTenant,
		OrderNumber:     "ZZ-ORD-MISSING",
		CustomerCode:    code,
		ProjectCode:     "ZZ-PROJ-UNBOUND",
		OrderDate:       "2025-03-01",
		TotalAmount:     1000,
		ActualAmount:    1000,
	})
	var refErr *syncerr.ReferenceResolutionError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceResolutionError, got %v", err)
	}

	// Zero rows written and the running total untouched.
	var orders int64
	if err := db.Raw(fmt.Sprintf(
		"SELECT count(*) FROM %s", tables.ConsumptionRecords,
	)).Scan(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 0 {
		t.Fatalf("expected 0 consumption rows, got %d", orders)
	}
	var total float64
	if err := db.Raw(fmt.Sprintf(
		"SELECT total_consumption FROM %s WHERE institution_customer_id = ?", tables.Customers,
	), receipt.PrimaryID).Scan(&total).Error; err != nil {
		t.Fatalf("read total: %v", err)
	}
	if total != 0 {
		t.Fatalf("running total changed to %v on failed insert", total)
	}
}

func TestConsumptionUpdatesRunningTotalsOnce(t *testing.T) {
	store := newStore(t)
	db := testutil.DB(t)
	ctx := context.Background()
	const code = testTenant + "-C0004"
	tables := identity.NewTenantTableSet(testTenant)

	receipt := upsertTestCustomer(t, store, code, "13900000004", "")
	if _, err := store.Upsert(ctx, &domain.ProjectRecord{
		ProjectCode: "ZZ-PROJ-001",
		Name:        "Test Treatment",
	}); err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	order := &domain.ConsumptionRecordInput{
		InstitutionCode: testTenant,
		OrderNumber:     "ZZ-ORD-0001",
		CustomerCode:    code,
		ProjectCode:     "ZZ-PROJ-001",
		OrderDate:       "2025-03-01",
		TotalAmount:     2000,
		ActualAmount:    1800,
	}
	first, err := store.Upsert(ctx, order)
	if err != nil {
		t.Fatalf("insert consumption: %v", err)
	}
	if first.CustomerID != receipt.PrimaryID {
		t.Fatalf("receipt customer id %s != %s", first.CustomerID, receipt.PrimaryID)
	}

	// Replay of the same order number must not double-count.
	second, err := store.Upsert(ctx, order)
	if err != nil {
		t.Fatalf("replay consumption: %v", err)
	}
	if second.PrimaryID != first.PrimaryID {
		t.Fatalf("replay minted a new consumption id")
	}

	var row struct {
		ConsumptionCount int
		TotalConsumption float64
	}
	if err := db.Raw(fmt.Sprintf(
		"SELECT consumption_count, total_consumption FROM %s WHERE institution_customer_id = ?",
		tables.Customers,
	), receipt.PrimaryID).Scan(&row).Error; err != nil {
		t.Fatalf("read totals: %v", err)
	}
	if row.ConsumptionCount != 1 {
		t.Fatalf("consumption_count = %d, want 1", row.ConsumptionCount)
	}
	if row.TotalConsumption != 1800 {
		t.Fatalf("total_consumption = %v, want 1800", row.TotalConsumption)
	}
}

func TestRelationUpsertAndTraversal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, code := range []string{"ZZ-PROJ-A", "ZZ-PROJ-B"} {
		if _, err := store.Upsert(ctx, &domain.ProjectRecord{ProjectCode: code, Name: code}); err != nil {
			t.Fatalf("upsert project %s: %v", code, err)
		}
	}

	rel := &domain.RelationRecord{
		SourceType:    domain.RelationSourceProject,
		SourceCode:    "ZZ-PROJ-A",
		TargetType:    domain.RelationSourceProject,
		TargetCode:    "ZZ-PROJ-B",
		RelationType:  domain.RelationUpgrade,
		RelationLevel: 4,
		Bidirectional: true,
	}
	first, err := store.Upsert(ctx, rel)
	if err != nil {
		t.Fatalf("upsert relation: %v", err)
	}
	rel.RelationLevel = 5
	second, err := store.Upsert(ctx, rel)
	if err != nil {
		t.Fatalf("re-upsert relation: %v", err)
	}
	if first.PrimaryID != second.PrimaryID {
		t.Fatal("relation re-upsert created a duplicate")
	}

	// Forward edge from A, reverse edge from B (bidirectional).
	fromA, err := store.RelatedCatalogItems(ctx, domain.RelationSourceProject, "ZZ-PROJ-A")
	if err != nil {
		t.Fatalf("RelatedCatalogItems(A): %v", err)
	}
	if len(fromA) != 1 || fromA[0].ItemCode != "ZZ-PROJ-B" || fromA[0].RelationLevel != 5 {
		t.Fatalf("unexpected relations from A: %+v", fromA)
	}
	fromB, err := store.RelatedCatalogItems(ctx, domain.RelationSourceProject, "ZZ-PROJ-B")
	if err != nil {
		t.Fatalf("RelatedCatalogItems(B): %v", err)
	}
	if len(fromB) != 1 || fromB[0].ItemCode != "ZZ-PROJ-A" {
		t.Fatalf("unexpected relations from B: %+v", fromB)
	}
}

func TestRelationRejectsSelfRelation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, &domain.ProjectRecord{ProjectCode: "ZZ-PROJ-SELF", Name: "Self"}); err != nil {
		t.Fatalf("upsert project: %v", err)
	}
	_, err := store.Upsert(ctx, &domain.RelationRecord{
		SourceType:    domain.RelationSourceProject,
		SourceCode:    "ZZ-PROJ-SELF",
		TargetType:    domain.RelationSourceProject,
		TargetCode:    "ZZ-PROJ-SELF",
		RelationType:  domain.RelationSimilar,
		RelationLevel: 1,
	})
	if err == nil {
		t.Fatal("expected self-relation to be rejected")
	}
	if !errors.Is(err, syncerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument in chain, got %v", err)
	}
}

func TestRemoveSoftDeletesCustomer(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	const code = testTenant + "-C0005"

	created := upsertTestCustomer(t, store, code, "13900000005", "")
	removed, err := store.Remove(ctx, &domain.CustomerRecord{
		InstitutionCode: testTenant,
		CustomerCode:    code,
	})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.PrimaryID != created.PrimaryID {
		t.Fatalf("removed id %s != created id %s", removed.PrimaryID, created.PrimaryID)
	}

	// A consumption record for the removed customer no longer resolves.
	_, err = store.Upsert(ctx, &domain.ConsumptionRecordInput{
		InstitutionCode: testTenant,
		OrderNumber:     "ZZ-ORD-GONE",
		CustomerCode:    code,
		OrderDate:       "2025-04-01",
		ActualAmount:    100,
	})
	var refErr *syncerr.ReferenceResolutionError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceResolutionError after removal, got %v", err)
	}

	// Second removal of the same customer finds nothing.
	if _, err := store.Remove(ctx, &domain.CustomerRecord{
		InstitutionCode: testTenant,
		CustomerCode:    code,
	}); !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceResolutionError on double removal, got %v", err)
	}
}

func TestCountsCoverAllKinds(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	upsertTestCustomer(t, store, testTenant+"-C0006", "13900000006", "")
	counts, err := store.Counts(ctx, testTenant)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	for _, kind := range domain.Kinds {
		if _, ok := counts[kind]; !ok {
			t.Fatalf("missing count for kind %s", kind)
		}
	}
	if counts[domain.KindCustomer] < 1 {
		t.Fatalf("customer count = %d, want >= 1", counts[domain.KindCustomer])
	}
}
