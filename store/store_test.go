package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skytracker/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "events.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(objectID int, label types.Label, start time.Time, clip string) types.DetectionEvent {
	return types.DetectionEvent{
		ObjectID:         objectID,
		Label:            label,
		Confidence:       0.75,
		StartTime:        start,
		EndTime:          start.Add(2 * time.Second),
		StartFrame:       10,
		EndFrame:         70,
		AvgX:             120.5,
		AvgY:             80.25,
		AvgSpeed:         3.5,
		TrajectoryLength: 30,
		ClipPath:         clip,
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 23, 0, 0, 123456789, time.UTC)

	want := event(7, types.Satellite, base, "clips/a.mp4")
	id, err := s.Append(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.Append(ctx, event(8, types.Aircraft, base.Add(time.Minute), ""))
	require.NoError(t, err)

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 8, got[0].ObjectID)
	assert.Empty(t, got[0].ClipPath)

	want.ID = id
	if diff := cmp.Diff(want, got[1], cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("stored event mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestByLabelAndStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()
	for i, l := range []types.Label{types.Satellite, types.Aircraft, types.Satellite, types.Anomalous} {
		_, err := s.Append(ctx, event(i, l, now.Add(time.Duration(i)*time.Second), ""))
		require.NoError(t, err)
	}

	sats, err := s.ByLabel(ctx, types.Satellite, 10)
	require.NoError(t, err)
	require.Len(t, sats, 2)
	assert.Equal(t, 2, sats[0].ObjectID)
	assert.Equal(t, 0, sats[1].ObjectID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ByLabel[types.Satellite])
	assert.Equal(t, 1, st.ByLabel[types.Anomalous])
}

func TestClear(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()
	id1, _ := s.Append(ctx, event(1, types.Aircraft, now, "clips/1.mp4"))
	_, _ = s.Append(ctx, event(2, types.Aircraft, now, ""))
	_, _ = s.Append(ctx, event(3, types.Aircraft, now, "clips/3.mp4"))

	clips, err := s.Clear(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []string{"clips/1.mp4"}, clips)

	left, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	clips, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clips/3.mp4"}, clips)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
}

func TestAppendAfterCloseIsPersistenceError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "events.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), event(1, types.Unknown, time.Now(), ""))
	assert.True(t, errors.Is(err, types.ErrPersistence))
}
