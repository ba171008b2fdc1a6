package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldtrace/logsync/internal/domain"
	"github.com/fieldtrace/logsync/internal/metrics"
)

// Synchronizer keeps the remote analytics table eventually consistent
// with locally computed per-actor daily aggregates. Exactly one instance
// runs per deployment: two loops against the same store could both see a
// reference as unregistered and create duplicate remote rows.
type Synchronizer struct {
	store    domain.Store
	agg      *Aggregator
	remote   domain.RemoteStore
	table    string
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func NewSynchronizer(store domain.Store, agg *Aggregator, remote domain.RemoteStore, table string, interval time.Duration, loc *time.Location, log zerolog.Logger) *Synchronizer {
	if loc == nil {
		loc = time.Local
	}
	return &Synchronizer{
		store:    store,
		agg:      agg,
		remote:   remote,
		table:    table,
		interval: interval,
		loc:      loc,
		now:      time.Now,
		log:      log.With().Str("component", "synchronizer").Logger(),
	}
}

// Run executes reconciliation cycles until ctx is canceled. A failed
// cycle is logged and retried on the next tick; nothing short of
// cancellation stops the loop. Cancellation is only observed between
// cycles: the cycle itself runs on a cancellation-shielded context, so
// an in-flight push still reaches its confirm phase and no remote row
// is left updated but unconfirmed.
func (s *Synchronizer) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("synchronizer started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass runs right away; the remote should not lag a full
	// interval behind startup.
	s.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("synchronizer stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Synchronizer) cycle(ctx context.Context) {
	day := domain.Day(s.now(), s.loc)
	if err := s.RunCycle(context.WithoutCancel(ctx), day); err != nil {
		s.log.Error().Err(err).Str("log_date", domain.DayKey(day)).Msg("sync cycle failed")
	}
}

// RunCycle performs one register → aggregate → push → confirm pass for
// day. Exported so tests drive cycles without the wall clock.
func (s *Synchronizer) RunCycle(ctx context.Context, day time.Time) error {
	metrics.CycleStarted()

	// Registration failures don't block the push phase: already-registered
	// actors can still be synced, and the unregistered ones are retried
	// next cycle with no partial state written.
	if err := s.register(ctx, day); err != nil {
		metrics.PhaseFailed("register")
		s.log.Warn().Err(err).Msg("registration failed; unregistered references wait for next cycle")
	}

	refs, err := s.store.Dirty(ctx, day)
	if err != nil {
		metrics.PhaseFailed("aggregate")
		return err
	}
	if len(refs) == 0 {
		s.log.Debug().Msg("nothing to push")
		return nil
	}

	actorIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		actorIDs = append(actorIDs, ref.ActorID)
	}

	summaries, err := s.agg.Summarize(ctx, actorIDs, day)
	if err != nil {
		metrics.PhaseFailed("aggregate")
		return err
	}
	if len(summaries) == 0 {
		return nil
	}

	records := make([]domain.RemoteRecord, 0, len(summaries))
	for _, sum := range summaries {
		records = append(records, domain.RemoteRecord{
			RemoteID: sum.RemoteID,
			Fields: domain.RecordFields{
				ActorReference:       sum.ActorID,
				TotalRequests:        sum.TotalEvents,
				PositiveCount:        sum.PositiveCount,
				ForConfirmationCount: sum.ForConfirmationCount,
				UniqueScannedCount:   sum.UniqueSubjects,
				LogDate:              day.UnixMilli(),
			},
		})
	}

	// One batched call per cycle: remote request volume stays flat as the
	// actor count grows, at the cost of an all-or-nothing failure unit.
	if err := s.remote.UpdateRecords(ctx, s.table, records); err != nil {
		metrics.PhaseFailed("push")
		// References stay dirty; re-sending the same aggregate later is a
		// pure overwrite.
		return err
	}

	pushed := make([]string, 0, len(records))
	for _, rec := range records {
		pushed = append(pushed, rec.RemoteID)
	}
	if err := s.store.BulkMarkSynced(ctx, pushed, day, s.now()); err != nil {
		metrics.PhaseFailed("confirm")
		return err
	}

	metrics.RecordsPushed(len(pushed))
	s.log.Info().Int("pushed", len(pushed)).Str("log_date", domain.DayKey(day)).Msg("sync cycle complete")
	return nil
}

// register creates one remote row per unregistered (actor, day) pair,
// seeded with an all-zero aggregate, and stores the returned ids. On any
// failure nothing is written and every actor in the batch is retried
// next cycle.
func (s *Synchronizer) register(ctx context.Context, day time.Time) error {
	refs, err := s.store.Unregistered(ctx, day)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	fields := make([]domain.RecordFields, 0, len(refs))
	for _, ref := range refs {
		fields = append(fields, domain.RecordFields{
			ActorReference: ref.ActorID,
			LogDate:        day.UnixMilli(),
		})
	}

	created, err := s.remote.CreateRecords(ctx, s.table, fields)
	if err != nil {
		return err
	}

	ids := make(map[string]string, len(created))
	for _, rec := range created {
		if rec.Fields.ActorReference == "" || rec.RemoteID == "" {
			s.log.Warn().Str("remote_id", rec.RemoteID).Msg("created record missing actor reference; skipping")
			continue
		}
		ids[rec.Fields.ActorReference] = rec.RemoteID
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.store.BulkAssignRemoteIDs(ctx, ids, day); err != nil {
		return err
	}

	metrics.ReferencesRegistered(len(ids))
	s.log.Info().Int("registered", len(ids)).Str("log_date", domain.DayKey(day)).Msg("references registered")
	return nil
}
