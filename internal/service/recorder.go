package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldtrace/logsync/internal/domain"
	"github.com/fieldtrace/logsync/internal/metrics"
)

// Recorder appends activity events. Collaborators hand it a validated
// actor identity and event; deduplication and rate limiting are theirs.
type Recorder struct {
	store domain.EventLog
	loc   *time.Location
	now   func() time.Time
	log   zerolog.Logger
}

func NewRecorder(store domain.EventLog, loc *time.Location, log zerolog.Logger) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{
		store: store,
		loc:   loc,
		now:   time.Now,
		log:   log.With().Str("component", "recorder").Logger(),
	}
}

// Record persists one event and marks the actor's daily aggregate dirty,
// atomically. Duplicate submissions are deliberately accepted.
func (r *Recorder) Record(ctx context.Context, actorID string, eventType domain.EventType, subjectText string, occurredAt time.Time) (domain.Event, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Event{}, domain.ErrActorRequired
	}
	if !eventType.Valid() {
		return domain.Event{}, domain.ErrUnknownEventType
	}

	if occurredAt.IsZero() {
		occurredAt = r.now()
	}

	e := domain.Event{
		ID:         uuid.New(),
		ActorID:    actorID,
		Type:       eventType,
		OccurredAt: occurredAt,
		LogDate:    domain.Day(occurredAt, r.loc),
	}
	if subject := strings.TrimSpace(subjectText); subject != "" {
		e.SubjectText = &subject
	}

	if err := r.store.RecordEvent(ctx, e, r.now()); err != nil {
		return domain.Event{}, err
	}

	metrics.EventRecorded(string(e.Type))
	r.log.Debug().
		Str("actor_id", e.ActorID).
		Str("event_type", string(e.Type)).
		Str("log_date", domain.DayKey(e.LogDate)).
		Msg("event recorded")
	return e, nil
}
