package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrace/logsync/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS activity_events (
			id           UUID PRIMARY KEY,
			actor_id     TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			subject_text TEXT,
			occurred_at  TIMESTAMPTZ NOT NULL,
			log_date     DATE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_events_actor_day
			ON activity_events (actor_id, log_date);

		CREATE TABLE IF NOT EXISTS sync_references (
			actor_id     TEXT NOT NULL,
			log_date     DATE NOT NULL,
			remote_id    TEXT,
			updated_at   TIMESTAMPTZ,
			last_sync_at TIMESTAMPTZ,
			PRIMARY KEY (actor_id, log_date)
		);
	`)
	if err != nil {
		return &domain.PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

func (r *Repository) RecordEvent(ctx context.Context, e domain.Event, dirtyAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "record_event.begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO activity_events (id, actor_id, event_type, subject_text, occurred_at, log_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.ActorID, string(e.Type), e.SubjectText, e.OccurredAt, e.LogDate)
	if err != nil {
		return &domain.PersistenceError{Op: "record_event.insert", Err: err}
	}

	// First writer creates the reference; everyone after only bumps
	// updated_at. Last-write-wins is safe: any write after the last sync
	// keeps the row dirty until the next successful push.
	_, err = tx.Exec(ctx, `
		INSERT INTO sync_references (actor_id, log_date, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id, log_date)
		DO UPDATE SET updated_at = EXCLUDED.updated_at
	`, e.ActorID, e.LogDate, dirtyAt)
	if err != nil {
		return &domain.PersistenceError{Op: "record_event.upsert_reference", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.PersistenceError{Op: "record_event.commit", Err: err}
	}
	return nil
}

func (r *Repository) EventsForDay(ctx context.Context, actorIDs []string, day time.Time) ([]domain.LoggedEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.actor_id, e.event_type, e.subject_text, e.occurred_at, e.log_date,
		       COALESCE(ref.remote_id, '')
		FROM activity_events e
		JOIN sync_references ref
		  ON ref.actor_id = e.actor_id AND ref.log_date = e.log_date
		WHERE e.actor_id = ANY($1)
		  AND e.log_date = $2
		ORDER BY e.occurred_at ASC
	`, actorIDs, day)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "events_for_day", Err: err}
	}
	defer rows.Close()

	var out []domain.LoggedEvent
	for rows.Next() {
		var le domain.LoggedEvent
		var eventType string
		if err := rows.Scan(&le.ID, &le.ActorID, &eventType, &le.SubjectText, &le.OccurredAt, &le.LogDate, &le.RemoteID); err != nil {
			return nil, &domain.PersistenceError{Op: "events_for_day.scan", Err: err}
		}
		le.Type = domain.EventType(eventType)
		out = append(out, le)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "events_for_day.rows", Err: err}
	}
	return out, nil
}

func (r *Repository) Unregistered(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return r.queryRefs(ctx, `
		SELECT actor_id, log_date, COALESCE(remote_id, ''), updated_at, last_sync_at
		FROM sync_references
		WHERE log_date = $1 AND remote_id IS NULL
		ORDER BY actor_id
	`, day)
}

func (r *Repository) Dirty(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return r.queryRefs(ctx, `
		SELECT actor_id, log_date, COALESCE(remote_id, ''), updated_at, last_sync_at
		FROM sync_references
		WHERE log_date = $1
		  AND remote_id IS NOT NULL
		  AND (updated_at IS NULL OR last_sync_at IS NULL OR updated_at > last_sync_at)
		ORDER BY actor_id
	`, day)
}

func (r *Repository) ReferencesForDay(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return r.queryRefs(ctx, `
		SELECT actor_id, log_date, COALESCE(remote_id, ''), updated_at, last_sync_at
		FROM sync_references
		WHERE log_date = $1
		ORDER BY actor_id
	`, day)
}

func (r *Repository) BulkAssignRemoteIDs(ctx context.Context, ids map[string]string, day time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "bulk_assign.begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for actorID, remoteID := range ids {
		var existing *string
		err := tx.QueryRow(ctx, `
			SELECT remote_id FROM sync_references
			WHERE actor_id = $1 AND log_date = $2
			FOR UPDATE
		`, actorID, day).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			// The remote answered with an actor we have no row for; there
			// is nothing to attach the id to, and failing the batch would
			// starve every other actor in it.
			continue
		}
		if err != nil {
			return &domain.PersistenceError{Op: "bulk_assign.lock", Err: err}
		}

		if existing != nil {
			if *existing == remoteID {
				continue // idempotent re-assign
			}
			// Rolling back leaves the rest of the batch untouched.
			return &domain.RemoteIDConflictError{
				ActorID:  actorID,
				Existing: *existing,
				Proposed: remoteID,
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE sync_references
			SET remote_id = $3
			WHERE actor_id = $1 AND log_date = $2
		`, actorID, day, remoteID)
		if err != nil {
			return &domain.PersistenceError{Op: "bulk_assign.update", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.PersistenceError{Op: "bulk_assign.commit", Err: err}
	}
	return nil
}

func (r *Repository) BulkMarkSynced(ctx context.Context, remoteIDs []string, day time.Time, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_references
		SET last_sync_at = $3,
		    updated_at = $3
		WHERE log_date = $2 AND remote_id = ANY($1)
	`, remoteIDs, day, at)
	if err != nil {
		return &domain.PersistenceError{Op: "bulk_mark_synced", Err: err}
	}
	return nil
}

func (r *Repository) queryRefs(ctx context.Context, sql string, day time.Time) ([]domain.Reference, error) {
	rows, err := r.pool.Query(ctx, sql, day)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query_references", Err: err}
	}
	defer rows.Close()

	var out []domain.Reference
	for rows.Next() {
		var ref domain.Reference
		if err := rows.Scan(&ref.ActorID, &ref.LogDate, &ref.RemoteID, &ref.UpdatedAt, &ref.LastSyncAt); err != nil {
			return nil, &domain.PersistenceError{Op: "query_references.scan", Err: err}
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "query_references.rows", Err: err}
	}
	return out, nil
}
