// Package recording keeps a rolling window of recent frames and turns
// triggered detections into video clips.
package recording

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"skytracker/config"
)

const defaultCloseTimeout = 10 * time.Second

type clip struct {
	id       string
	path     string
	started  time.Time
	deadline time.Time
	frames   []gocv.Mat
}

// Buffer is the clip buffer. All Mats it holds are private clones.
type Buffer struct {
	writer       ClipWriter
	log          zerolog.Logger
	now          func() time.Time
	closeTimeout time.Duration

	mu       sync.Mutex
	cfg      config.Recording
	fps      float64
	capacity int
	rolling  []gocv.Mat
	active   *clip

	writes sync.WaitGroup
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithWriter replaces the video file writer.
func WithWriter(w ClipWriter) Option { return func(b *Buffer) { b.writer = w } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(b *Buffer) { b.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(b *Buffer) { b.now = now } }

// WithCloseTimeout bounds how long Close waits for pending clip writes.
func WithCloseTimeout(d time.Duration) Option { return func(b *Buffer) { b.closeTimeout = d } }

// New creates a Buffer sized for a source running at fps.
func New(cfg config.Recording, fps float64, opts ...Option) *Buffer {
	b := &Buffer{
		writer:       VideoFileWriter{},
		log:          zerolog.Nop(),
		now:          time.Now,
		closeTimeout: defaultCloseTimeout,
		cfg:          cfg,
	}
	for _, o := range opts {
		o(b)
	}
	b.SetFPS(fps)
	return b
}

func capacityFor(pre, fps float64) int {
	return max(1, int(math.Round(pre*fps)))
}

// SetFPS resizes the rolling window for a new frame rate, keeping the newest
// frames that still fit.
func (b *Buffer) SetFPS(fps float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fps = fps
	b.resize()
}

// SetConfig replaces the recording settings. A clip in progress keeps its
// path and deadline.
func (b *Buffer) SetConfig(cfg config.Recording) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.resize()
}

// Config returns the current recording settings.
func (b *Buffer) Config() config.Recording {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

func (b *Buffer) resize() {
	b.capacity = capacityFor(b.cfg.ClipPreBuffer, b.fps)
	b.evict()
}

func (b *Buffer) evict() {
	if over := len(b.rolling) - b.capacity; over > 0 {
		for _, m := range b.rolling[:over] {
			m.Close()
		}
		b.rolling = append([]gocv.Mat(nil), b.rolling[over:]...)
	}
}

// Capacity returns the rolling window size in frames.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Len returns the number of frames in the rolling window.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rolling)
}

// Recording reports whether a clip is being accumulated.
func (b *Buffer) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil
}

// Elapsed returns how long the current clip has been recording.
func (b *Buffer) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return 0
	}
	return b.now().Sub(b.active.started)
}

// Feed adds a frame. The Buffer stores its own copies; the caller keeps
// ownership of frame. A clip whose deadline has passed is handed to the
// writer in the background.
func (b *Buffer) Feed(frame gocv.Mat) {
	if frame.Empty() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolling = append(b.rolling, frame.Clone())
	b.evict()

	if b.active == nil {
		return
	}
	b.active.frames = append(b.active.frames, frame.Clone())
	if !b.now().Before(b.active.deadline) {
		b.finalize()
	}
}

// Trigger starts a clip seeded with the rolling window, or extends the
// deadline of the one in progress. It returns the clip id and file path.
func (b *Buffer) Trigger() (id, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	deadline := now.Add(config.Seconds(b.cfg.ClipPostBuffer))
	if b.active != nil {
		b.active.deadline = deadline
		return b.active.id, b.active.path
	}

	id = uuid.NewString()
	c := &clip{
		id:       id,
		path:     filepath.Join(b.cfg.ClipDir, fmt.Sprintf("clip_%s_%s.mp4", now.Format("20060102_150405"), id[:8])),
		started:  now,
		deadline: deadline,
		frames:   make([]gocv.Mat, 0, len(b.rolling)),
	}
	for _, m := range b.rolling {
		c.frames = append(c.frames, m.Clone())
	}
	b.active = c
	b.log.Info().Str("clip", c.path).Int("pre_frames", len(c.frames)).Msg("recording started")
	return c.id, c.path
}

// Flush finalizes the clip in progress regardless of its deadline.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active != nil {
		b.finalize()
	}
}

// finalize detaches the active clip and writes it asynchronously. b.mu must
// be held.
func (b *Buffer) finalize() {
	c := b.active
	b.active = nil
	fps := b.cfg.ClipFPS

	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		defer func() {
			for _, m := range c.frames {
				m.Close()
			}
		}()
		if err := b.writer.WriteClip(c.path, c.frames, fps); err != nil {
			b.log.Error().Err(err).Str("clip", c.path).Msg("failed to write clip")
			return
		}
		b.log.Info().Str("clip", c.path).Int("frames", len(c.frames)).Msg("clip saved")
	}()
}

// Close flushes any clip in progress, waits a bounded time for pending
// writes and releases the rolling window.
func (b *Buffer) Close() error {
	b.Flush()

	done := make(chan struct{})
	go func() {
		b.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.closeTimeout):
		b.log.Warn().Dur("timeout", b.closeTimeout).Msg("clip writes still pending at shutdown")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.rolling {
		m.Close()
	}
	b.rolling = nil
	return nil
}
