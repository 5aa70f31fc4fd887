package types

import (
	"math"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one decoded image from the frame source. The Mat is owned by
// whoever received the Frame and must be closed by them.
type Frame struct {
	Mat       gocv.Mat
	Seq       uint64
	Timestamp time.Time
}

// Close releases the pixel buffer.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Point is an integer pixel position.
type Point struct {
	X, Y int
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(float64(p.X-q.X), float64(p.Y-q.Y))
}

// Detection is a single candidate blob observed in one frame.
type Detection struct {
	Center     Point
	Width      int
	Height     int
	Area       float64
	Brightness float64
	FrameSeq   uint64
	Timestamp  time.Time
}

// Label is the heuristic classification of a track.
type Label string

// Labels in tie-break order: when scores are equal the earlier label wins.
const (
	Aircraft  Label = "aircraft"
	Satellite Label = "satellite"
	Anomalous Label = "anomalous"
	Unknown   Label = "unknown"
)

// Labels lists the labels a classifier can vote for, in tie-break order.
var Labels = []Label{Aircraft, Satellite, Anomalous}

// ParseLabel validates a label name.
func ParseLabel(s string) (Label, bool) {
	switch l := Label(s); l {
	case Aircraft, Satellite, Anomalous, Unknown:
		return l, true
	}
	return "", false
}

// Track is a tracked object's identity and bounded history. Positions,
// Brightness and Frames always have the same length.
type Track struct {
	ID          int
	Centroid    Point
	Positions   []Point
	Brightness  []float64
	Frames      []uint64
	FirstSeen   time.Time
	LastSeen    time.Time
	Disappeared int
	Label       Label
	Confidence  float64
	Speed       float64
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() Track {
	c := *t
	c.Positions = append([]Point(nil), t.Positions...)
	c.Brightness = append([]float64(nil), t.Brightness...)
	c.Frames = append([]uint64(nil), t.Frames...)
	return c
}

// DetectionEvent is the durable record of one classified track.
type DetectionEvent struct {
	ID               int64
	ObjectID         int
	Label            Label
	Confidence       float64
	StartTime        time.Time
	EndTime          time.Time
	StartFrame       uint64
	EndFrame         uint64
	AvgX             float64
	AvgY             float64
	AvgSpeed         float64
	TrajectoryLength int
	ClipPath         string
}

// Stats is the aggregate state exposed to the presentation layer.
type Stats struct {
	FPS             float64 `json:"fps"`
	FrameCount      uint64  `json:"frame_count"`
	ActiveTracks    int     `json:"active_tracks"`
	Connected       bool    `json:"connected"`
	DetectionActive bool    `json:"detection_active"`
	ScheduleEnabled bool    `json:"schedule_enabled"`
	Recording       bool    `json:"recording"`
}
