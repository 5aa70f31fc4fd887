package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skytracker/config"
	"skytracker/types"
)

func det(x, y int) types.Detection {
	return types.Detection{Center: types.Point{X: x, Y: y}, Brightness: 200}
}

func testConfig() config.Tracking {
	return config.Tracking{MaxDistance: 50, MaxDisappeared: 3, MinTrackLength: 3, MaxHistory: 300}
}

func TestTrackerScenario(t *testing.T) {
	tr := New(testConfig())

	tracks := tr.Update([]types.Detection{det(100, 100), det(300, 300)})
	require.Len(t, tracks, 2)
	assert.NotEqual(t, tracks[0].ID, tracks[1].ID)
	first := tracks[0].ID

	tr.Update([]types.Detection{det(110, 100)})
	tr.Update([]types.Detection{det(120, 100)})
	tr.Update(nil)
	tracks = tr.Update(nil)

	require.Len(t, tracks, 1)
	assert.Equal(t, first, tracks[0].ID)
	assert.Len(t, tracks[0].Positions, 3)
	assert.InDelta(t, 10.0, tracks[0].Speed, 0.1)
	assert.Equal(t, types.Point{X: 120, Y: 100}, tracks[0].Centroid)
}

func TestEmptyUpdateAgesByOne(t *testing.T) {
	tr := New(testConfig())
	tr.Update([]types.Detection{det(10, 10), det(200, 200)})

	for cycle := 1; cycle <= 3; cycle++ {
		tracks := tr.Update(nil)
		require.Len(t, tracks, 2)
		for _, track := range tracks {
			assert.Equal(t, cycle, track.Disappeared)
		}
	}
	assert.Empty(t, tr.Update(nil))
	assert.Empty(t, tr.Update(nil))
}

func TestIDsIncreaseAndAreNeverReused(t *testing.T) {
	tr := New(testConfig())
	seen := map[int]bool{}
	last := -1
	for i := 0; i < 10; i++ {
		// Far apart each cycle so every detection registers.
		tr.Reset()
		for _, track := range tr.Update([]types.Detection{det(i*100, 0), det(i*100, 300)}) {
			assert.False(t, seen[track.ID], "id %d reused", track.ID)
			assert.Greater(t, track.ID, last)
			seen[track.ID] = true
			last = track.ID
		}
	}
	assert.Len(t, seen, 20)
}

func TestHistoryLengthsStayEqual(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistory = 4
	tr := New(cfg)
	for i := 0; i < 10; i++ {
		d := det(i*5, 0)
		d.FrameSeq = uint64(i)
		for _, track := range tr.Update([]types.Detection{d}) {
			assert.Equal(t, len(track.Positions), len(track.Brightness))
			assert.Equal(t, len(track.Positions), len(track.Frames))
			assert.LessOrEqual(t, len(track.Positions), 4)
		}
	}
	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, []uint64{6, 7, 8, 9}, tracks[0].Frames)
}

func TestGateRejectsDistantDetection(t *testing.T) {
	tr := New(testConfig())
	tr.Update([]types.Detection{det(0, 0)})
	tracks := tr.Update([]types.Detection{det(400, 0)})
	require.Len(t, tracks, 2)
	assert.Equal(t, 1, tracks[0].Disappeared)
	assert.Len(t, tracks[1].Positions, 1)
}

func TestGreedyPairsClosestFirst(t *testing.T) {
	tr := New(testConfig())
	tr.Update([]types.Detection{det(0, 0), det(30, 0)})

	// Both tracks are nearest to (28,0); the closer one (ID 1) takes it and
	// ID 0 is left unmatched because its nearest detection is used.
	tracks := tr.Update([]types.Detection{det(28, 0), det(-40, 0)})
	require.Len(t, tracks, 3)
	assert.Equal(t, 1, tracks[0].Disappeared)
	assert.Equal(t, types.Point{X: 28, Y: 0}, tracks[1].Centroid)
	assert.Equal(t, 2, tracks[2].ID)
	assert.Equal(t, types.Point{X: -40, Y: 0}, tracks[2].Centroid)
}

func TestGreedyPairsEqualDistances(t *testing.T) {
	t.Run("lower track id wins a shared detection", func(t *testing.T) {
		tr := New(testConfig())
		tr.Update([]types.Detection{det(0, 0), det(20, 0)})

		tracks := tr.Update([]types.Detection{det(10, 0)})
		require.Len(t, tracks, 2)
		assert.Equal(t, types.Point{X: 10, Y: 0}, tracks[0].Centroid)
		assert.Zero(t, tracks[0].Disappeared)
		assert.Equal(t, types.Point{X: 20, Y: 0}, tracks[1].Centroid)
		assert.Equal(t, 1, tracks[1].Disappeared)
	})

	t.Run("track takes the lower detection index", func(t *testing.T) {
		tr := New(testConfig())
		tr.Update([]types.Detection{det(0, 0)})

		tracks := tr.Update([]types.Detection{det(10, 0), det(-10, 0)})
		require.Len(t, tracks, 2)
		assert.Equal(t, types.Point{X: 10, Y: 0}, tracks[0].Centroid)
		assert.Equal(t, 1, tracks[1].ID)
		assert.Equal(t, types.Point{X: -10, Y: 0}, tracks[1].Centroid)
	})
}

func TestMatureAndClassification(t *testing.T) {
	tr := New(testConfig())
	tr.Update([]types.Detection{det(0, 0)})
	assert.Empty(t, tr.Mature())
	tr.Update([]types.Detection{det(2, 0)})
	tr.Update([]types.Detection{det(4, 0)})

	mature := tr.Mature()
	require.Len(t, mature, 1)
	assert.Equal(t, types.Unknown, mature[0].Label)

	assert.True(t, tr.SetClassification(mature[0].ID, types.Satellite, 0.8))
	assert.False(t, tr.SetClassification(99, types.Aircraft, 1))
	got := tr.Mature()[0]
	assert.Equal(t, types.Satellite, got.Label)
	assert.Equal(t, 0.8, got.Confidence)

	// Returned tracks are copies.
	got.Positions[0] = types.Point{X: 99, Y: 99}
	assert.Equal(t, types.Point{}, tr.Mature()[0].Positions[0])
}
