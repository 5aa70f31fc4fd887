// Package pipeline drives the capture, detection, tracking, classification
// and recording stages and exposes their state to presentation layers.
package pipeline

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"skytracker/classify"
	"skytracker/config"
	"skytracker/detection"
	"skytracker/mailbox"
	"skytracker/preprocess"
	"skytracker/recording"
	"skytracker/tracking"
	"skytracker/types"
	"skytracker/ui"
)

const (
	defaultStopTimeout = 10 * time.Second
	idleWait           = 10 * time.Millisecond
	storeTimeout       = 5 * time.Second
)

// FrameSource is the acquisition side. *capture.Source implements it.
type FrameSource interface {
	Start()
	Stop()
	Latest() (types.Frame, bool)
	Seq() uint64
	Connected() bool
	FPS() float64
	SetConfig(config.Capture)
}

// EventStore persists detection events. *store.Store implements it.
type EventStore interface {
	Append(ctx context.Context, ev types.DetectionEvent) (int64, error)
}

// Detector finds candidate objects in a preprocessed frame.
type Detector interface {
	Detect(gray gocv.Mat, seq uint64, ts time.Time) []types.Detection
	Close() error
}

// rebuild flags
const (
	rebuildPreprocessor uint32 = 1 << iota
	rebuildDetector
)

// Pipeline is the orchestrator.
type Pipeline struct {
	log         zerolog.Logger
	source      FrameSource
	store       EventStore
	clips       *recording.Buffer
	tracker     *tracking.Tracker
	classifier  *classify.Classifier
	hub         *Hub
	newDetector func(config.Detection) Detector
	now         func() time.Time
	stopTimeout time.Duration
	clipOpts    []recording.Option

	mu      sync.Mutex
	cfg     config.App
	rebuild atomic.Uint32

	// Owned by the processing loop.
	pre     *preprocess.Preprocessor
	det     Detector
	logged  map[int]bool
	skip    int
	fpsUsed float64

	display *mailbox.Mailbox[gocv.Mat]
	urlGen  atomic.Uint64

	frameCount   atomic.Uint64
	fpsBits      atomic.Uint64
	activeTracks atomic.Int64

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	// stuck is set when the processing loop outlived its stop timeout.
	stuck atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithClock replaces time.Now for schedule gating and event times.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithDetectorFactory replaces the OpenCV detector.
func WithDetectorFactory(f func(config.Detection) Detector) Option {
	return func(p *Pipeline) { p.newDetector = f }
}

// WithClipOptions passes options to the clip buffer.
func WithClipOptions(opts ...recording.Option) Option {
	return func(p *Pipeline) { p.clipOpts = append(p.clipOpts, opts...) }
}

// WithStopTimeout bounds how long Stop waits for the processing loop.
func WithStopTimeout(d time.Duration) Option { return func(p *Pipeline) { p.stopTimeout = d } }

// New wires the stages together. cfg must be valid.
func New(cfg config.App, source FrameSource, store EventStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:         zerolog.Nop(),
		source:      source,
		store:       store,
		now:         time.Now,
		stopTimeout: defaultStopTimeout,
		cfg:         cfg,
		logged:      make(map[int]bool),
		display:     mailbox.New(func(m gocv.Mat) { m.Close() }),
	}
	p.newDetector = func(c config.Detection) Detector {
		return detection.New(c, detection.WithLogger(p.log.With().Str("component", "detector").Logger()))
	}
	for _, o := range opts {
		o(p)
	}

	fps := source.FPS()
	p.fpsUsed = fps
	p.hub = NewHub(p.log.With().Str("component", "events").Logger())
	p.tracker = tracking.New(cfg.Tracking)
	p.classifier = classify.New(cfg.Classification, fps)
	p.clips = recording.New(cfg.Recording, fps,
		append([]recording.Option{recording.WithLogger(p.log.With().Str("component", "clips").Logger())}, p.clipOpts...)...)
	p.pre = preprocess.New(cfg.Processing)
	p.det = p.newDetector(cfg.Detection)
	return p
}

// Start launches acquisition and the processing loop. Calling Start on a
// running Pipeline is a no-op.
func (p *Pipeline) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.stop != nil {
		return
	}
	p.source.Start()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stop, p.done)
	p.log.Info().Msg("pipeline started")
}

// Stop halts acquisition and processing, each with a bounded wait, then
// flushes any clip in progress. The event store is not closed.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.runMu.Unlock()
	if stop == nil {
		return
	}

	p.source.Stop()
	close(stop)
	select {
	case <-done:
	case <-time.After(p.stopTimeout):
		p.stuck.Store(true)
		p.log.Warn().Dur("timeout", p.stopTimeout).Msg("processing loop did not stop in time")
	}
	p.clips.Flush()
	p.log.Info().Msg("pipeline stopped")
}

// Close stops the pipeline and releases its resources. The preprocessor and
// detector are left to the loop when it did not stop in time. Later calls
// return the first result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.Stop()
		p.hub.Close()
		p.display.Clear()
		p.closeErr = p.clips.Close()
		if p.stuck.Load() {
			p.log.Warn().Msg("processing loop still running, leaking preprocessor and detector")
			return
		}
		p.pre.Close()
		p.det.Close()
	})
	return p.closeErr
}

// Events returns the event hub.
func (p *Pipeline) Events() *Hub { return p.hub }

// DisplayFrame returns a copy of the latest annotated frame. The caller must
// close it.
func (p *Pipeline) DisplayFrame() (gocv.Mat, bool) {
	m, _, ok := p.display.Peek(func(m gocv.Mat) gocv.Mat { return m.Clone() })
	return m, ok
}

// Stats returns the aggregate pipeline state.
func (p *Pipeline) Stats() types.Stats {
	sched := p.Config().Schedule
	return types.Stats{
		FPS:             math.Round(math.Float64frombits(p.fpsBits.Load())*10) / 10,
		FrameCount:      p.frameCount.Load(),
		ActiveTracks:    int(p.activeTracks.Load()),
		Connected:       p.source.Connected(),
		DetectionActive: sched.Active(p.now()),
		ScheduleEnabled: sched.Enabled,
		Recording:       p.clips.Recording(),
	}
}

// ResetTracks drops every live track.
func (p *Pipeline) ResetTracks() {
	p.tracker.Reset()
	p.log.Info().Msg("tracks reset")
}

// TriggerClip starts or extends a clip and returns its path.
func (p *Pipeline) TriggerClip() string {
	_, path := p.clips.Trigger()
	return path
}

// ClipElapsed returns how long the current clip has been recording.
func (p *Pipeline) ClipElapsed() time.Duration { return p.clips.Elapsed() }

func (p *Pipeline) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var (
		lastSeq    uint64
		fpsFrames  int
		fpsStarted = time.Now()
	)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if seq := p.source.Seq(); seq == lastSeq {
			if !p.source.Connected() {
				p.fpsBits.Store(0)
				fpsFrames, fpsStarted = 0, time.Now()
			}
			if !sleep(stop, idleWait) {
				return
			}
			continue
		}

		frame, ok := p.source.Latest()
		if !ok {
			if !sleep(stop, idleWait) {
				return
			}
			continue
		}
		lastSeq = frame.Seq

		processed := p.cycle(frame)
		frame.Close()

		if processed {
			fpsFrames++
			if elapsed := time.Since(fpsStarted); elapsed >= time.Second {
				p.fpsBits.Store(math.Float64bits(float64(fpsFrames) / elapsed.Seconds()))
				fpsFrames, fpsStarted = 0, time.Now()
			}
		}
	}
}

// cycle runs one frame through the stages. It reports false for skipped
// frames, which only feed the clip buffer.
func (p *Pipeline) cycle(frame types.Frame) bool {
	gen := p.urlGen.Load()
	cfg := p.applyConfig()
	now := p.now()

	p.skip++
	if p.skip%cfg.Processing.FrameSkip != 0 {
		display := p.pre.ResizeOnly(frame.Mat)
		ui.StampTime(&display, now)
		p.clips.Feed(display)
		display.Close()
		return false
	}
	p.frameCount.Add(1)

	gray := p.pre.Process(frame.Mat)
	defer gray.Close()
	display := p.pre.ResizeOnly(frame.Mat)

	active := cfg.Schedule.Active(now)
	var dets []types.Detection
	if active {
		dets = p.det.Detect(gray, frame.Seq, frame.Timestamp)
	}

	tracks := p.tracker.Update(dets)
	p.activeTracks.Store(int64(len(tracks)))
	p.forgetEvicted(tracks)

	if active {
		if mature := p.classifyMature(); len(mature) > 0 {
			_, clipPath := p.clips.Trigger()
			for _, tr := range mature {
				if tr.Label != types.Unknown {
					p.publish(tr, clipPath, now)
				}
			}
			tracks = p.tracker.Tracks()
		}
	}

	ui.Annotate(&display, tracks, ui.HUD{
		FPS:    math.Float64frombits(p.fpsBits.Load()),
		Tracks: len(tracks),
	}, now)
	p.clips.Feed(display)

	if p.urlGen.Load() != gen {
		display.Close()
		return true
	}
	p.display.Put(display)
	return true
}

// applyConfig rebuilds components invalidated by config updates and keeps
// frame-rate dependent stages in step with the source.
func (p *Pipeline) applyConfig() config.App {
	cfg := p.Config()

	flags := p.rebuild.Swap(0)
	if flags&rebuildPreprocessor != 0 {
		p.pre.Close()
		p.pre = preprocess.New(cfg.Processing)
		p.log.Info().Msg("preprocessor rebuilt")
	}
	if flags&rebuildDetector != 0 {
		p.det.Close()
		p.det = p.newDetector(cfg.Detection)
		p.log.Info().Msg("detector rebuilt")
	}

	if fps := p.source.FPS(); fps > 0 && fps != p.fpsUsed {
		p.fpsUsed = fps
		p.classifier.SetFPS(fps)
		p.clips.SetFPS(fps)
		p.log.Info().Float64("fps", fps).Msg("source frame rate applied")
	}
	return cfg
}

func (p *Pipeline) classifyMature() []types.Track {
	mature := p.tracker.Mature()
	for i := range mature {
		label, conf := p.classifier.Classify(mature[i])
		mature[i].Label, mature[i].Confidence = label, conf
		p.tracker.SetClassification(mature[i].ID, label, conf)
	}
	return mature
}

// forgetEvicted drops logged ids of tracks that no longer exist. Track ids are
// never reused, so this only bounds the set.
func (p *Pipeline) forgetEvicted(live []types.Track) {
	if len(p.logged) == 0 {
		return
	}
	alive := make(map[int]bool, len(live))
	for _, tr := range live {
		alive[tr.ID] = true
	}
	for id := range p.logged {
		if !alive[id] {
			delete(p.logged, id)
		}
	}
}

// publish persists and announces the event for tr once per track id. A store
// failure loses that event; the id stays marked.
func (p *Pipeline) publish(tr types.Track, clipPath string, now time.Time) {
	if p.logged[tr.ID] {
		return
	}
	p.logged[tr.ID] = true

	ev := EventFor(tr, clipPath, now)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	id, err := p.store.Append(ctx, ev)
	if err != nil {
		p.log.Error().Err(err).Int("object_id", tr.ID).Msg("failed to persist event")
		return
	}
	ev.ID = id
	p.hub.Publish(ev)
	p.log.Info().Int64("event_id", id).Int("object_id", tr.ID).Str("label", string(tr.Label)).
		Float64("confidence", tr.Confidence).Msg("detection")
}

// EventFor summarizes a classified track.
func EventFor(tr types.Track, clipPath string, now time.Time) types.DetectionEvent {
	ev := types.DetectionEvent{
		ObjectID:         tr.ID,
		Label:            tr.Label,
		Confidence:       tr.Confidence,
		StartTime:        tr.FirstSeen,
		EndTime:          tr.LastSeen,
		TrajectoryLength: len(tr.Positions),
		ClipPath:         clipPath,
	}
	if ev.StartTime.IsZero() {
		ev.StartTime = now
	}
	if ev.EndTime.IsZero() {
		ev.EndTime = now
	}
	if len(tr.Frames) > 0 {
		ev.StartFrame, ev.EndFrame = tr.Frames[0], tr.Frames[len(tr.Frames)-1]
	}
	if n := len(tr.Positions); n > 0 {
		for _, pt := range tr.Positions {
			ev.AvgX += float64(pt.X)
			ev.AvgY += float64(pt.Y)
		}
		ev.AvgX /= float64(n)
		ev.AvgY /= float64(n)
	}
	if speeds := classify.Speeds(tr.Positions); len(speeds) > 0 {
		for _, s := range speeds {
			ev.AvgSpeed += s
		}
		ev.AvgSpeed /= float64(len(speeds))
	}
	return ev
}

func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
