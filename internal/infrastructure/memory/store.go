package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fieldtrace/logsync/internal/domain"
)

type refKey struct {
	actorID string
	day     string
}

// Store is an in-memory domain.Store. One mutex guards both maps so the
// event append and the reference upsert are atomic, matching the
// transactional behavior of the postgres repository.
type Store struct {
	mu     sync.RWMutex
	events []domain.Event
	refs   map[refKey]domain.Reference
}

func NewStore() *Store {
	return &Store{
		refs: make(map[refKey]domain.Reference),
	}
}

func (s *Store) RecordEvent(ctx context.Context, e domain.Event, dirtyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)

	key := refKey{actorID: e.ActorID, day: domain.DayKey(e.LogDate)}
	ref, ok := s.refs[key]
	if !ok {
		ref = domain.Reference{ActorID: e.ActorID, LogDate: e.LogDate}
	}
	at := dirtyAt
	ref.UpdatedAt = &at
	s.refs[key] = ref
	return nil
}

func (s *Store) EventsForDay(ctx context.Context, actorIDs []string, day time.Time) ([]domain.LoggedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(actorIDs))
	for _, id := range actorIDs {
		wanted[id] = struct{}{}
	}

	dayKey := domain.DayKey(day)
	out := make([]domain.LoggedEvent, 0)
	for _, e := range s.events {
		if domain.DayKey(e.LogDate) != dayKey {
			continue
		}
		if _, ok := wanted[e.ActorID]; !ok {
			continue
		}
		ref := s.refs[refKey{actorID: e.ActorID, day: dayKey}]
		out = append(out, domain.LoggedEvent{Event: e, RemoteID: ref.RemoteID})
	}
	return out, nil
}

func (s *Store) Unregistered(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return s.filterRefs(day, func(r domain.Reference) bool {
		return !r.Registered()
	}), nil
}

func (s *Store) Dirty(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return s.filterRefs(day, func(r domain.Reference) bool {
		return r.Registered() && r.Dirty()
	}), nil
}

func (s *Store) BulkAssignRemoteIDs(ctx context.Context, ids map[string]string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayKey := domain.DayKey(day)

	// Validate the whole batch before writing anything.
	for actorID, remoteID := range ids {
		ref, ok := s.refs[refKey{actorID: actorID, day: dayKey}]
		if !ok {
			continue
		}
		if ref.RemoteID != "" && ref.RemoteID != remoteID {
			return &domain.RemoteIDConflictError{
				ActorID:  actorID,
				Existing: ref.RemoteID,
				Proposed: remoteID,
			}
		}
	}

	for actorID, remoteID := range ids {
		key := refKey{actorID: actorID, day: dayKey}
		ref, ok := s.refs[key]
		if !ok {
			continue
		}
		ref.RemoteID = remoteID
		s.refs[key] = ref
	}
	return nil
}

func (s *Store) BulkMarkSynced(ctx context.Context, remoteIDs []string, day time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		wanted[id] = struct{}{}
	}

	dayKey := domain.DayKey(day)
	for key, ref := range s.refs {
		if key.day != dayKey {
			continue
		}
		if _, ok := wanted[ref.RemoteID]; !ok {
			continue
		}
		ts := at
		ref.LastSyncAt = &ts
		ref.UpdatedAt = &ts
		s.refs[key] = ref
	}
	return nil
}

func (s *Store) ReferencesForDay(ctx context.Context, day time.Time) ([]domain.Reference, error) {
	return s.filterRefs(day, func(domain.Reference) bool { return true }), nil
}

// Reference looks up a single reference, for tests.
func (s *Store) Reference(actorID string, day time.Time) (domain.Reference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refs[refKey{actorID: actorID, day: domain.DayKey(day)}]
	return ref, ok
}

func (s *Store) filterRefs(day time.Time, keep func(domain.Reference) bool) []domain.Reference {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayKey := domain.DayKey(day)
	out := make([]domain.Reference, 0)
	for key, ref := range s.refs {
		if key.day != dayKey {
			continue
		}
		if keep(ref) {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}
