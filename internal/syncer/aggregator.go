package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/fieldtrace/logsync/internal/domain"
)

// Aggregator computes per-actor daily rollups from the event log.
type Aggregator struct {
	events domain.EventLog
}

func NewAggregator(events domain.EventLog) *Aggregator {
	return &Aggregator{events: events}
}

// Summarize groups the day's events for the given actors. Actors with no
// events are omitted. Pure read; safe to run concurrently with recording.
func (a *Aggregator) Summarize(ctx context.Context, actorIDs []string, day time.Time) ([]domain.AggregateSummary, error) {
	logged, err := a.events.EventsForDay(ctx, actorIDs, day)
	if err != nil {
		return nil, err
	}

	type group struct {
		summary  domain.AggregateSummary
		subjects map[string]struct{}
	}
	groups := make(map[string]*group)

	for _, le := range logged {
		g, ok := groups[le.ActorID]
		if !ok {
			g = &group{
				summary:  domain.AggregateSummary{ActorID: le.ActorID, RemoteID: le.RemoteID},
				subjects: make(map[string]struct{}),
			}
			groups[le.ActorID] = g
		}

		g.summary.TotalEvents++
		if le.SubjectText != nil {
			g.subjects[*le.SubjectText] = struct{}{}
		}
		switch le.Type {
		case domain.EventPositiveNotification:
			g.summary.PositiveCount++
		case domain.EventForConfirmationNotification:
			g.summary.ForConfirmationCount++
		}
	}

	out := make([]domain.AggregateSummary, 0, len(groups))
	for _, g := range groups {
		g.summary.UniqueSubjects = len(g.subjects)
		out = append(out, g.summary)
	}

	// Busiest actors first, actor id as tie-breaker for determinism.
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalEvents != out[j].TotalEvents {
			return out[i].TotalEvents > out[j].TotalEvents
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out, nil
}
