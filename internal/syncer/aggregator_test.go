package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrace/logsync/internal/domain"
	"github.com/fieldtrace/logsync/internal/infrastructure/memory"
	"github.com/fieldtrace/logsync/internal/service"
)

func TestSummarize_CountsPerActor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec := service.NewRecorder(store, time.UTC, zerolog.Nop())
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	at := day.Add(9 * time.Hour)

	for _, ev := range [][2]string{
		{"CHECK", "ABC123"},
		{"POSITIVE_NOTIFICATION", "ABC123"},
		{"CHECK", "XYZ789"},
		{"FOR_CONFIRMATION_NOTIFICATION", "XYZ789"},
		{"CHECK", "ABC123"},
	} {
		_, err := rec.Record(ctx, "agent-1", domain.EventType(ev[0]), ev[1], at)
		require.NoError(t, err)
	}

	summaries, err := NewAggregator(store).Summarize(ctx, []string{"agent-1"}, day)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	got := summaries[0]
	assert.Equal(t, "agent-1", got.ActorID)
	assert.Equal(t, 5, got.TotalEvents)
	assert.Equal(t, 2, got.UniqueSubjects)
	assert.Equal(t, 1, got.PositiveCount)
	assert.Equal(t, 1, got.ForConfirmationCount)
}

func TestSummarize_OmitsActorsWithoutEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec := service.NewRecorder(store, time.UTC, zerolog.Nop())
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	_, err := rec.Record(ctx, "agent-1", domain.EventCheck, "ABC123", day.Add(time.Hour))
	require.NoError(t, err)

	summaries, err := NewAggregator(store).Summarize(ctx, []string{"agent-1", "agent-2"}, day)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "agent-1", summaries[0].ActorID)
}

func TestSummarize_BusiestActorsFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec := service.NewRecorder(store, time.UTC, zerolog.Nop())
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	_, err := rec.Record(ctx, "agent-quiet", domain.EventCheck, "AAA111", day.Add(time.Hour))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := rec.Record(ctx, "agent-busy", domain.EventCheck, "BBB222", day.Add(time.Hour))
		require.NoError(t, err)
	}

	summaries, err := NewAggregator(store).Summarize(ctx, []string{"agent-quiet", "agent-busy"}, day)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "agent-busy", summaries[0].ActorID)
	assert.Equal(t, "agent-quiet", summaries[1].ActorID)
}

func TestSummarize_IgnoresEmptySubjects(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec := service.NewRecorder(store, time.UTC, zerolog.Nop())
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	_, err := rec.Record(ctx, "agent-1", domain.EventCheck, "", day.Add(time.Hour))
	require.NoError(t, err)
	_, err = rec.Record(ctx, "agent-1", domain.EventCheck, "ABC123", day.Add(time.Hour))
	require.NoError(t, err)

	summaries, err := NewAggregator(store).Summarize(ctx, []string{"agent-1"}, day)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].TotalEvents)
	assert.Equal(t, 1, summaries[0].UniqueSubjects)
}
