// Package syncx orchestrates multi-store synchronization: the authoritative
// primary write first, then best-effort fan-out to every configured
// secondary adapter. Secondary failures never fail the overall call.
package syncx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/platform/logger"
)

// Primary is the authoritative store as seen by the dispatcher.
type Primary interface {
	Upsert(ctx context.Context, rec domain.Record) (domain.Receipt, error)
	Remove(ctx context.Context, rec domain.Record) (domain.Receipt, error)
}

// Adapter translates a canonical record into one secondary store's write
// model. Implementations return an error instead of swallowing failures;
// the dispatcher decides that secondary errors are non-fatal.
type Adapter interface {
	Name() string
	Apply(ctx context.Context, rec domain.Record, receipt domain.Receipt) error
	Remove(ctx context.Context, rec domain.Record, receipt domain.Receipt) error
}

// Outcome is one secondary store's result for one entity.
type Outcome struct {
	Store string
	Err   error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Result is returned by Sync: the authoritative identifier plus per-store
// outcomes. A non-nil Result always means the primary write committed.
type Result struct {
	Receipt  domain.Receipt
	Outcomes []Outcome
}

// Failed counts secondary stores that did not apply the entity.
func (r *Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// BatchStats aggregates a batch run. Errors and successes are reported
// separately: a non-zero error count is a warning, not total failure.
type BatchStats struct {
	Total     int
	Succeeded int
	Failed    int
	// SecondaryFailures counts individual adapter failures across the
	// batch; entities they belong to still count as succeeded.
	SecondaryFailures int
}

type Dispatcher struct {
	log      *logger.Logger
	primary  Primary
	adapters []Adapter

	// secondaryTimeout bounds each adapter call; a timeout is just
	// another secondary failure.
	secondaryTimeout time.Duration
	concurrency      int64
}

type Option func(*Dispatcher)

func WithSecondaryTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.secondaryTimeout = d }
}

func WithBatchConcurrency(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.concurrency = int64(n)
		}
	}
}

func NewDispatcher(log *logger.Logger, primary Primary, adapters []Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:              log.With("service", "SyncDispatcher"),
		primary:          primary,
		adapters:         adapters,
		secondaryTimeout: 10 * time.Second,
		concurrency:      32,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sync writes one record everywhere. The primary write must succeed; its
// error propagates untouched. Each adapter then runs independently and a
// reader of a secondary store can only ever see entities that already exist
// in the primary store.
func (d *Dispatcher) Sync(ctx context.Context, rec domain.Record) (*Result, error) {
	receipt, err := d.primary.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Result{
		Receipt:  receipt,
		Outcomes: d.fanOut(ctx, rec, receipt, false),
	}, nil
}

// Remove soft-deletes on the primary store, then propagates tombstones to
// the secondaries best-effort.
func (d *Dispatcher) Remove(ctx context.Context, rec domain.Record) (*Result, error) {
	receipt, err := d.primary.Remove(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Result{
		Receipt:  receipt,
		Outcomes: d.fanOut(ctx, rec, receipt, true),
	}, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, rec domain.Record, receipt domain.Receipt, remove bool) []Outcome {
	outcomes := make([]Outcome, len(d.adapters))
	for i, adapter := range d.adapters {
		callCtx, cancel := context.WithTimeout(ctx, d.secondaryTimeout)
		err := d.applyOne(callCtx, adapter, rec, receipt, remove)
		cancel()

		if err != nil {
			err = &syncerr.SecondaryWriteError{
				Store: adapter.Name(),
				Kind:  string(rec.RecordKind()),
				ID:    receipt.PrimaryID.String(),
				Cause: err,
			}
			d.log.Warn(
				"secondary write failed",
				"store", adapter.Name(),
				"kind", string(rec.RecordKind()),
				"primary_id", receipt.PrimaryID.String(),
				"error", err.Error(),
			)
		}
		outcomes[i] = Outcome{Store: adapter.Name(), Err: err}
	}
	return outcomes
}

// applyOne converts an adapter panic into an error so one misbehaving store
// cannot take down a batch.
func (d *Dispatcher) applyOne(ctx context.Context, adapter Adapter, rec domain.Record, receipt domain.Receipt, remove bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panic: %v", rec)
		}
	}()
	if remove {
		return adapter.Remove(ctx, rec, receipt)
	}
	return adapter.Apply(ctx, rec, receipt)
}

// SyncBatch runs Sync over a slice of records with bounded concurrency.
// Primary failures skip the record and are counted; the batch keeps going.
// Only a batch where every record failed returns an error.
func (d *Dispatcher) SyncBatch(ctx context.Context, records []domain.Record) (BatchStats, error) {
	stats := BatchStats{Total: len(records)}
	if len(records) == 0 {
		return stats, nil
	}

	sem := semaphore.NewWeighted(d.concurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rec := range records {
		if err := sem.Acquire(ctx, 1); err != nil {
			// In-flight goroutines still hold the stats mutex; drain them
			// before handing the partial counts back.
			wg.Wait()
			return stats, err
		}
		wg.Add(1)
		go func(rec domain.Record) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := d.Sync(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				d.log.Warn(
					"record skipped in batch",
					"kind", string(rec.RecordKind()),
					"key", rec.NaturalKey(),
					"error", err.Error(),
				)
				return
			}
			stats.Succeeded++
			stats.SecondaryFailures += result.Failed()
		}(rec)
	}
	wg.Wait()

	if stats.Failed == stats.Total {
		return stats, fmt.Errorf("batch failed completely: %d/%d records rejected", stats.Failed, stats.Total)
	}
	return stats, nil
}
