package syncx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

type fakePrimary struct {
	failKeys map[string]error
	upserts  atomic.Int64
}

func (f *fakePrimary) Upsert(_ context.Context, rec domain.Record) (domain.Receipt, error) {
	if err, ok := f.failKeys[rec.NaturalKey()]; ok {
		return domain.Receipt{}, err
	}
	f.upserts.Add(1)
	return domain.Receipt{PrimaryID: uuid.New()}, nil
}

func (f *fakePrimary) Remove(_ context.Context, rec domain.Record) (domain.Receipt, error) {
	if err, ok := f.failKeys[rec.NaturalKey()]; ok {
		return domain.Receipt{}, err
	}
	return domain.Receipt{PrimaryID: uuid.New()}, nil
}

type fakeAdapter struct {
	name    string
	err     error
	panics  bool
	applied atomic.Int64
	removed atomic.Int64
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Apply(context.Context, domain.Record, domain.Receipt) error {
	if f.panics {
		panic("adapter blew up")
	}
	if f.err != nil {
		return f.err
	}
	f.applied.Add(1)
	return nil
}

func (f *fakeAdapter) Remove(context.Context, domain.Record, domain.Receipt) error {
	if f.err != nil {
		return f.err
	}
	f.removed.Add(1)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func inst(code string) domain.Record {
	return &domain.InstitutionRecord{InstitutionCode: code, Name: code}
}

func TestSyncSecondaryFailureIsIsolated(t *testing.T) {
	primary := &fakePrimary{}
	graph := &fakeAdapter{name: "graph", err: errors.New("connection refused")}
	vector := &fakeAdapter{name: "vector"}
	d := NewDispatcher(testLogger(t), primary, []Adapter{graph, vector})

	result, err := d.Sync(context.Background(), inst("BJ-HA-001"))
	if err != nil {
		t.Fatalf("Sync returned error despite primary success: %v", err)
	}
	if result.Receipt.PrimaryID == uuid.Nil {
		t.Fatal("primary id missing from result")
	}
	if result.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", result.Failed())
	}

	var found bool
	for _, o := range result.Outcomes {
		if o.Store == "graph" {
			found = true
			var secErr *syncerr.SecondaryWriteError
			if !errors.As(o.Err, &secErr) {
				t.Fatalf("graph outcome not a SecondaryWriteError: %v", o.Err)
			}
			if secErr.Store != "graph" {
				t.Fatalf("wrong store in error: %s", secErr.Store)
			}
		}
	}
	if !found {
		t.Fatal("no outcome recorded for graph store")
	}
	if vector.applied.Load() != 1 {
		t.Fatal("healthy adapter skipped after sibling failure")
	}
}

func TestSyncPrimaryFailurePropagatesAndSkipsSecondaries(t *testing.T) {
	wantErr := &syncerr.PrimaryWriteError{Kind: "institution", Key: "BJ-HA-001", Cause: errors.New("down")}
	primary := &fakePrimary{failKeys: map[string]error{"BJ-HA-001": wantErr}}
	graph := &fakeAdapter{name: "graph"}
	d := NewDispatcher(testLogger(t), primary, []Adapter{graph})

	_, err := d.Sync(context.Background(), inst("BJ-HA-001"))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected primary error to propagate, got %v", err)
	}
	if graph.applied.Load() != 0 {
		t.Fatal("secondary adapter ran despite primary failure")
	}
}

func TestSyncAdapterPanicBecomesOutcome(t *testing.T) {
	primary := &fakePrimary{}
	bad := &fakeAdapter{name: "analytics", panics: true}
	d := NewDispatcher(testLogger(t), primary, []Adapter{bad})

	result, err := d.Sync(context.Background(), inst("BJ-HA-001"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Failed() != 1 {
		t.Fatalf("panic not recorded as failure: %+v", result.Outcomes)
	}
}

func TestRemoveFansOutTombstones(t *testing.T) {
	primary := &fakePrimary{}
	graph := &fakeAdapter{name: "graph"}
	d := NewDispatcher(testLogger(t), primary, []Adapter{graph})

	result, err := d.Remove(context.Background(), inst("BJ-HA-001"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if result.Failed() != 0 {
		t.Fatalf("unexpected failures: %+v", result.Outcomes)
	}
	if graph.removed.Load() != 1 {
		t.Fatal("tombstone not propagated")
	}
}

func TestSyncBatchCountsErrorsSeparately(t *testing.T) {
	primary := &fakePrimary{failKeys: map[string]error{
		"BAD-001": errors.New("constraint violation"),
	}}
	graph := &fakeAdapter{name: "graph"}
	d := NewDispatcher(testLogger(t), primary, []Adapter{graph}, WithBatchConcurrency(4))

	records := []domain.Record{inst("OK-001"), inst("BAD-001"), inst("OK-002")}
	stats, err := d.SyncBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("SyncBatch: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if primary.upserts.Load() != 2 {
		t.Fatalf("primary upserts = %d, want 2", primary.upserts.Load())
	}
}

func TestSyncBatchCompleteFailureIsError(t *testing.T) {
	primary := &fakePrimary{failKeys: map[string]error{
		"BAD-001": errors.New("down"),
		"BAD-002": errors.New("down"),
	}}
	d := NewDispatcher(testLogger(t), primary, nil)

	stats, err := d.SyncBatch(context.Background(), []domain.Record{inst("BAD-001"), inst("BAD-002")})
	if err == nil {
		t.Fatal("expected error when every record fails")
	}
	if stats.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", stats.Failed)
	}
}

type blockingPrimary struct {
	begun    atomic.Int64
	announce sync.Once
	started  chan struct{}
}

func (b *blockingPrimary) Upsert(ctx context.Context, _ domain.Record) (domain.Receipt, error) {
	b.begun.Add(1)
	b.announce.Do(func() { close(b.started) })
	<-ctx.Done()
	return domain.Receipt{}, ctx.Err()
}

func (b *blockingPrimary) Remove(ctx context.Context, _ domain.Record) (domain.Receipt, error) {
	return domain.Receipt{}, ctx.Err()
}

func TestSyncBatchCancellationDrainsInFlight(t *testing.T) {
	primary := &blockingPrimary{started: make(chan struct{})}
	d := NewDispatcher(testLogger(t), primary, nil, WithBatchConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-primary.started
		cancel()
	}()

	records := []domain.Record{inst("A-001"), inst("A-002"), inst("A-003")}
	stats, err := d.SyncBatch(ctx, records)
	if err == nil {
		t.Fatal("expected error from cancelled batch")
	}
	// Every record already handed to the primary must be counted before the
	// stats copy is handed back; returning earlier races its bookkeeping.
	if got := int(primary.begun.Load()); stats.Failed != got {
		t.Fatalf("stats.Failed = %d, want %d in-flight records drained", stats.Failed, got)
	}
	if stats.Succeeded != 0 {
		t.Fatalf("no record should succeed under cancellation, got %d", stats.Succeeded)
	}
}

func TestSyncBatchEmptyIsNoop(t *testing.T) {
	d := NewDispatcher(testLogger(t), &fakePrimary{}, nil)
	stats, err := d.SyncBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("SyncBatch: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("Total = %d, want 0", stats.Total)
	}
}

func TestSecondaryTimeoutIsNonFatal(t *testing.T) {
	primary := &fakePrimary{}
	slow := &slowAdapter{name: "graph"}
	d := NewDispatcher(testLogger(t), primary, []Adapter{slow}, WithSecondaryTimeout(10*time.Millisecond))

	result, err := d.Sync(context.Background(), inst("BJ-HA-001"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Failed() != 1 {
		t.Fatalf("timeout not recorded as secondary failure: %+v", result.Outcomes)
	}
}

type slowAdapter struct{ name string }

func (s *slowAdapter) Name() string { return s.name }

func (s *slowAdapter) Apply(ctx context.Context, _ domain.Record, _ domain.Receipt) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func (s *slowAdapter) Remove(context.Context, domain.Record, domain.Receipt) error { return nil }
