package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCheck                       EventType = "CHECK"
	EventPositiveNotification        EventType = "POSITIVE_NOTIFICATION"
	EventForConfirmationNotification EventType = "FOR_CONFIRMATION_NOTIFICATION"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCheck, EventPositiveNotification, EventForConfirmationNotification:
		return true
	}
	return false
}

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrActorRequired    = errors.New("actor id required")
	ErrCacheMiss        = errors.New("cache miss")
)

// Event is one observed field-agent action. Append-only: never mutated
// or deleted by this service.
type Event struct {
	ID          uuid.UUID
	ActorID     string
	Type        EventType
	SubjectText *string
	OccurredAt  time.Time
	LogDate     time.Time // midnight of OccurredAt in the reference timezone
}

// LoggedEvent is an event joined with the remote record id of its
// (actor, day) reference.
type LoggedEvent struct {
	Event
	RemoteID string
}

// Reference tracks the remote sync state of one (actor, day) aggregate.
// RemoteID is empty until the remote row has been created, and is never
// reassigned afterwards.
type Reference struct {
	ActorID    string
	LogDate    time.Time
	RemoteID   string
	UpdatedAt  *time.Time
	LastSyncAt *time.Time
}

func (r Reference) Registered() bool {
	return r.RemoteID != ""
}

// Dirty reports whether the aggregate behind this reference has changed
// since the last successful push.
func (r Reference) Dirty() bool {
	if r.UpdatedAt == nil || r.LastSyncAt == nil {
		return true
	}
	return r.UpdatedAt.After(*r.LastSyncAt)
}

// AggregateSummary is the per-actor rollup for one day. Computed on
// demand, never persisted.
type AggregateSummary struct {
	ActorID              string
	RemoteID             string
	TotalEvents          int
	UniqueSubjects       int
	PositiveCount        int
	ForConfirmationCount int
}

// Day truncates t to midnight in loc. All (actor, day) keys use this.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayKey renders a day as its calendar date, for map keys and wire formats.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}

// EventLog stores activity events and the reference rows that shadow them.
type EventLog interface {
	// RecordEvent persists e and marks its (actor, day) reference dirty at
	// dirtyAt, creating the reference if absent. Both writes happen in one
	// transaction: an event must never exist without its reference being dirty.
	RecordEvent(ctx context.Context, e Event, dirtyAt time.Time) error

	// EventsForDay returns all events for the given actors on day, joined
	// with the remote record id of each actor's reference.
	EventsForDay(ctx context.Context, actorIDs []string, day time.Time) ([]LoggedEvent, error)
}

// ReferenceStore exposes the narrow primitives the reconciliation loop
// uses. No caller mutates RemoteID or LastSyncAt outside of these.
type ReferenceStore interface {
	// Unregistered returns references on day with no remote record yet.
	Unregistered(ctx context.Context, day time.Time) ([]Reference, error)

	// Dirty returns registered references on day whose aggregate changed
	// since the last successful push.
	Dirty(ctx context.Context, day time.Time) ([]Reference, error)

	// BulkAssignRemoteIDs sets the remote id for each actor on day.
	// Assigning the same id twice is a no-op; assigning a different id to an
	// already-registered reference fails the whole batch with
	// *RemoteIDConflictError and writes nothing.
	BulkAssignRemoteIDs(ctx context.Context, ids map[string]string, day time.Time) error

	// BulkMarkSynced sets last_sync_at = updated_at = at for every reference
	// on day whose remote id is in remoteIDs. Setting updated_at too makes
	// the dirty predicate false even if a stale updated_at was older.
	BulkMarkSynced(ctx context.Context, remoteIDs []string, day time.Time, at time.Time) error

	// ReferencesForDay lists all references on day, for the status surface.
	ReferencesForDay(ctx context.Context, day time.Time) ([]Reference, error)
}

// Store is the full local persistence surface.
type Store interface {
	EventLog
	ReferenceStore
}

// RecordFields is the flat field set pushed per remote record.
type RecordFields struct {
	ActorReference       string
	TotalRequests        int
	PositiveCount        int
	ForConfirmationCount int
	UniqueScannedCount   int
	LogDate              int64 // ms since epoch, midnight of the log date
}

// RemoteRecord pairs remote fields with the remote row id.
type RemoteRecord struct {
	RemoteID string
	Fields   RecordFields
}

// RemoteStore is the external analytics table. Both calls are batched and
// treated as all-or-nothing; updates are idempotent overwrites.
type RemoteStore interface {
	CreateRecords(ctx context.Context, table string, fields []RecordFields) ([]RemoteRecord, error)
	UpdateRecords(ctx context.Context, table string, records []RemoteRecord) error
}

// Cache is a key/value store with per-entry TTL, injected where the
// original code would reach for a module-level cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// PersistenceError wraps a failure of the local store. Callers of
// Recorder.Record see these and decide whether to retry or drop.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RemoteIDConflictError signals an attempt to reassign an existing remote
// id, which would mean a duplicate remote row was created somewhere.
type RemoteIDConflictError struct {
	ActorID  string
	Existing string
	Proposed string
}

func (e *RemoteIDConflictError) Error() string {
	return fmt.Sprintf("remote id conflict for actor %s: have %s, got %s", e.ActorID, e.Existing, e.Proposed)
}
