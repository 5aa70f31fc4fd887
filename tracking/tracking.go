// Package tracking keeps object identities alive across frames.
package tracking

import (
	"math"
	"sort"
	"sync"

	"skytracker/config"
	"skytracker/types"
)

// Tracker associates per-frame detections with live tracks by gated greedy
// nearest-neighbour matching.
type Tracker struct {
	mu     sync.Mutex
	cfg    config.Tracking
	tracks map[int]*types.Track
	nextID int
}

// New creates an empty Tracker.
func New(cfg config.Tracking) *Tracker {
	return &Tracker{cfg: cfg, tracks: make(map[int]*types.Track)}
}

// SetConfig replaces the tracking parameters. Existing tracks are kept;
// histories longer than the new cap are trimmed on their next match.
func (t *Tracker) SetConfig(cfg config.Tracking) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// Config returns the current parameters.
func (t *Tracker) Config() config.Tracking {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Reset drops every track. IDs keep increasing.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int]*types.Track)
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Update folds one frame's detections into the track table and returns copies
// of the live tracks ordered by ID.
func (t *Tracker) Update(dets []types.Detection) []types.Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(dets) == 0 {
		for _, id := range t.ids() {
			t.age(id)
		}
		return t.snapshot(nil)
	}

	if len(t.tracks) == 0 {
		for _, d := range dets {
			t.register(d)
		}
		return t.snapshot(nil)
	}

	ids := t.ids()
	usedRows := make([]bool, len(ids))
	usedCols := make([]bool, len(dets))
	for _, p := range greedyPairs(t.tracks, ids, dets) {
		if usedRows[p.row] || usedCols[p.col] || p.dist > t.cfg.MaxDistance {
			continue
		}
		t.match(t.tracks[ids[p.row]], dets[p.col])
		usedRows[p.row] = true
		usedCols[p.col] = true
	}

	for row, id := range ids {
		if !usedRows[row] {
			t.age(id)
		}
	}
	for col, d := range dets {
		if !usedCols[col] {
			t.register(d)
		}
	}
	return t.snapshot(nil)
}

// Mature returns copies of the tracks with at least min_track_length points.
func (t *Tracker) Mature() []types.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(func(tr *types.Track) bool {
		return len(tr.Positions) >= t.cfg.MinTrackLength
	})
}

// Tracks returns copies of all live tracks ordered by ID.
func (t *Tracker) Tracks() []types.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(nil)
}

// SetClassification stores the classifier verdict on a live track. It
// reports false if the track has been evicted.
func (t *Tracker) SetClassification(id int, label types.Label, confidence float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[id]
	if !ok {
		return false
	}
	tr.Label, tr.Confidence = label, confidence
	return true
}

type pair struct {
	row, col int
	dist     float64
}

// greedyPairs returns, for each track row, its nearest detection, ordered by
// ascending distance. Equal distances keep track ID order, and a track's
// nearest detection is the first of equally near ones.
func greedyPairs(tracks map[int]*types.Track, ids []int, dets []types.Detection) []pair {
	pairs := make([]pair, len(ids))
	for row, id := range ids {
		c := tracks[id].Centroid
		best := pair{row: row, dist: math.Inf(1)}
		for col, d := range dets {
			if dist := c.Dist(d.Center); dist < best.dist {
				best.col, best.dist = col, dist
			}
		}
		pairs[row] = best
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
	return pairs
}

func (t *Tracker) register(d types.Detection) {
	t.tracks[t.nextID] = &types.Track{
		ID:         t.nextID,
		Centroid:   d.Center,
		Positions:  []types.Point{d.Center},
		Brightness: []float64{d.Brightness},
		Frames:     []uint64{d.FrameSeq},
		FirstSeen:  d.Timestamp,
		LastSeen:   d.Timestamp,
		Label:      types.Unknown,
	}
	t.nextID++
}

func (t *Tracker) match(tr *types.Track, d types.Detection) {
	tr.Centroid = d.Center
	tr.Positions = append(tr.Positions, d.Center)
	tr.Brightness = append(tr.Brightness, d.Brightness)
	tr.Frames = append(tr.Frames, d.FrameSeq)
	if over := len(tr.Positions) - t.cfg.MaxHistory; over > 0 {
		tr.Positions = append([]types.Point(nil), tr.Positions[over:]...)
		tr.Brightness = append([]float64(nil), tr.Brightness[over:]...)
		tr.Frames = append([]uint64(nil), tr.Frames[over:]...)
	}
	tr.LastSeen = d.Timestamp
	tr.Disappeared = 0

	n := len(tr.Positions)
	if n >= 2 {
		tr.Speed = tr.Positions[n-1].Dist(tr.Positions[n-2])
	}
}

func (t *Tracker) age(id int) {
	tr := t.tracks[id]
	tr.Disappeared++
	if tr.Disappeared > t.cfg.MaxDisappeared {
		delete(t.tracks, id)
	}
}

func (t *Tracker) ids() []int {
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *Tracker) snapshot(keep func(*types.Track) bool) []types.Track {
	out := make([]types.Track, 0, len(t.tracks))
	for _, id := range t.ids() {
		tr := t.tracks[id]
		if keep != nil && !keep(tr) {
			continue
		}
		out = append(out, tr.Clone())
	}
	return out
}
