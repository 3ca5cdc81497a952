// Package health reconciles the primary store against its derived stores:
// per-kind count drift, orphaned secondary structures, and replay-based
// repair.
package health

import (
	"context"
	"time"

	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

// Counter exposes a secondary store's per-kind row/vertex/point count. The
// graph, analytics and vector adapters all satisfy it.
type Counter interface {
	Name() string
	Count(ctx context.Context, kind domain.Kind, tenantCode string) (int64, error)
}

// OrphanStore exposes a secondary store's structures (tables, collections)
// that exist on the server but are not part of the declared schema.
type OrphanStore interface {
	Name() string
	Orphans(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, name string) error
}

// KindDrift is the count comparison for one kind in one secondary store.
type KindDrift struct {
	Kind      domain.Kind `json:"kind"`
	Primary   int64       `json:"primary"`
	Secondary int64       `json:"secondary"`
	Missing   int64       `json:"missing"`
}

// StoreReport is one secondary store's reconciliation result. A store is
// degraded when any kind is missing rows or when it could not be counted at
// all.
type StoreReport struct {
	Store    string      `json:"store"`
	Kinds    []KindDrift `json:"kinds"`
	Degraded bool        `json:"degraded"`
	Error    string      `json:"error,omitempty"`
}

type DriftReport struct {
	TenantCode  string                `json:"tenant_code"`
	GeneratedAt time.Time             `json:"generated_at"`
	Primary     map[domain.Kind]int64 `json:"primary"`
	Stores      []StoreReport         `json:"stores"`
	Healthy     bool                  `json:"healthy"`
}

type registeredCounter struct {
	counter Counter
	kinds   []domain.Kind
}

type Reporter struct {
	log        *logger.Logger
	store      primary.Store
	dispatcher *syncx.Dispatcher
	counters   []registeredCounter
	orphans    []OrphanStore
}

func NewReporter(log *logger.Logger, store primary.Store, dispatcher *syncx.Dispatcher) *Reporter {
	return &Reporter{
		log:        log.With("service", "HealthReporter"),
		store:      store,
		dispatcher: dispatcher,
	}
}

// RegisterCounter enrolls a secondary store in reconciliation for the kinds
// it models. Kinds a store has no shape for are not compared against it.
func (r *Reporter) RegisterCounter(c Counter, kinds ...domain.Kind) {
	r.counters = append(r.counters, registeredCounter{counter: c, kinds: kinds})
}

func (r *Reporter) RegisterOrphanStore(s OrphanStore) {
	r.orphans = append(r.orphans, s)
}

// Reconcile compares authoritative per-kind counts against every registered
// secondary store. A secondary that cannot be counted, or that is missing
// rows the primary has, marks the report unhealthy; surplus secondary rows
// (from soft-deleted history) are reported but not degrading.
func (r *Reporter) Reconcile(ctx context.Context, tenantCode string) (*DriftReport, error) {
	primaryCounts, err := r.store.Counts(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{
		TenantCode:  tenantCode,
		GeneratedAt: time.Now(),
		Primary:     primaryCounts,
		Healthy:     true,
	}

	for _, reg := range r.counters {
		sr := StoreReport{Store: reg.counter.Name()}
		for _, kind := range reg.kinds {
			secondary, err := reg.counter.Count(ctx, kind, tenantCode)
			if err != nil {
				sr.Degraded = true
				sr.Error = err.Error()
				r.log.Warn("secondary count failed",
					"store", sr.Store,
					"tenant_code", tenantCode,
					"kind", kind,
					"error", err,
				)
				break
			}
			drift := KindDrift{
				Kind:      kind,
				Primary:   primaryCounts[kind],
				Secondary: secondary,
			}
			if missing := drift.Primary - secondary; missing > 0 {
				drift.Missing = missing
				sr.Degraded = true
			}
			sr.Kinds = append(sr.Kinds, drift)
		}
		if sr.Degraded {
			report.Healthy = false
		}
		report.Stores = append(report.Stores, sr)
	}

	r.log.Info("drift reconciliation finished",
		"tenant_code", tenantCode,
		"stores", len(report.Stores),
		"healthy", report.Healthy,
	)
	return report, nil
}

// OrphanReport maps store name to structures found outside the declared
// schema.
type OrphanReport map[string][]string

// ScanOrphans lists undeclared structures per registered store. With drop
// set, each orphan is removed; a failed drop is logged and the orphan stays
// in the report.
func (r *Reporter) ScanOrphans(ctx context.Context, drop bool) (OrphanReport, error) {
	report := make(OrphanReport, len(r.orphans))
	for _, store := range r.orphans {
		names, err := store.Orphans(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			continue
		}
		report[store.Name()] = names
		if !drop {
			continue
		}
		for _, name := range names {
			if err := store.Drop(ctx, name); err != nil {
				r.log.Warn("orphan drop failed", "store", store.Name(), "name", name, "error", err)
				continue
			}
			r.log.Info("dropped orphan", "store", store.Name(), "name", name)
		}
	}
	return report, nil
}

// Repair replays the tenant's full primary dataset through the dispatcher,
// rebuilding every secondary representation in place.
func (r *Reporter) Repair(ctx context.Context, tenantCode string) (syncx.BatchStats, error) {
	records, err := r.store.Export(ctx, tenantCode)
	if err != nil {
		return syncx.BatchStats{}, err
	}
	stats, err := r.dispatcher.SyncBatch(ctx, records)
	r.log.Info("repair finished",
		"tenant_code", tenantCode,
		"records", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"secondary_failures", stats.SecondaryFailures,
	)
	return stats, err
}
