// Package syncerr defines the error taxonomy shared by the synchronization
// engine. Primary-store errors always surface to the caller; secondary-store
// errors are caught at the adapter boundary and folded into sync statistics.
package syncerr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks a constraint collision on the authoritative store.
	ErrConflict = errors.New("conflict")
)

// ProvisioningError means a tenant's partitioned table set could not be
// created. Fatal for every operation scoped to that tenant; the whole
// provisioning run is retried on next reference.
type ProvisioningError struct {
	TenantCode string
	Step       string
	Cause      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning tenant %s failed at %s: %v", e.TenantCode, e.Step, e.Cause)
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// PrimaryWriteError is any failure on the authoritative store: natural-key
// resolution, constraint violation, connectivity. Never swallowed.
type PrimaryWriteError struct {
	Kind  string
	Key   string
	Cause error
}

func (e *PrimaryWriteError) Error() string {
	return fmt.Sprintf("primary write %s %q: %v", e.Kind, e.Key, e.Cause)
}

func (e *PrimaryWriteError) Unwrap() error { return e.Cause }

// SecondaryWriteError is any failure in a graph/analytics/vector adapter.
// Caught at the adapter boundary and recorded in the sync result, never
// raised past the dispatcher.
type SecondaryWriteError struct {
	Store string
	Kind  string
	ID    string
	Cause error
}

func (e *SecondaryWriteError) Error() string {
	return fmt.Sprintf("secondary write to %s failed (%s %s): %v", e.Store, e.Kind, e.ID, e.Cause)
}

func (e *SecondaryWriteError) Unwrap() error { return e.Cause }

// ReferenceResolutionError means a dependent entity (tenant catalog binding,
// referenced customer) does not exist. Fatal for primary writes that require
// it; callers doing best-effort enrichment may skip on it.
type ReferenceResolutionError struct {
	Kind string
	Code string
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Kind, e.Code)
}

// Postgres error classes used to distinguish constraint failures from
// connectivity failures when wrapping primary-store errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// ClassifyPostgres maps driver-level constraint failures onto the shared
// sentinels so transport layers can pick a status code without importing
// the driver. Anything else passes through unchanged.
func ClassifyPostgres(err error) error {
	switch {
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
