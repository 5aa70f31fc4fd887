// Package capture acquires frames from a camera, file or network stream in a
// background goroutine and keeps only the most recent one.
package capture

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"skytracker/config"
	"skytracker/mailbox"
	"skytracker/types"
)

const (
	defaultFPS         = 30.0
	defaultStopTimeout = 5 * time.Second
)

// Source is a resilient frame grabber. It never returns errors to callers:
// every failure of the underlying device becomes "disconnected, retrying".
type Source struct {
	open        Opener
	log         zerolog.Logger
	now         func() time.Time
	stopTimeout time.Duration

	mu     sync.Mutex
	cfg    config.Capture
	urlGen uint64
	stop   chan struct{}
	done   chan struct{}

	frames    *mailbox.Mailbox[types.Frame]
	connected atomic.Bool
	fpsBits   atomic.Uint64

	decodeFailures atomic.Uint64
	opens          atomic.Uint64
}

// Option configures a Source.
type Option func(*Source)

// WithOpener replaces the gocv device opener.
func WithOpener(o Opener) Option { return func(s *Source) { s.open = o } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Source) { s.log = l } }

// WithClock replaces time.Now for the acquisition watchdog.
func WithClock(now func() time.Time) Option { return func(s *Source) { s.now = now } }

// WithStopTimeout bounds how long Stop waits for the grab loop.
func WithStopTimeout(d time.Duration) Option { return func(s *Source) { s.stopTimeout = d } }

// New creates a stopped Source.
func New(cfg config.Capture, opts ...Option) *Source {
	s := &Source{
		open:        OpenCV,
		log:         zerolog.Nop(),
		now:         time.Now,
		stopTimeout: defaultStopTimeout,
		cfg:         cfg,
		frames:      mailbox.New(func(f types.Frame) { f.Close() }),
	}
	for _, o := range opts {
		o(s)
	}
	s.fpsBits.Store(math.Float64bits(defaultFPS))
	return s
}

// Start launches the grab loop. Calling Start on a running Source is a no-op.
func (s *Source) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	s.log.Info().Str("url", s.cfg.URL).Msg("frame grabber started")
}

// Stop signals the grab loop and waits for it to release the device, at most
// the stop timeout.
func (s *Source) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	select {
	case <-done:
		s.log.Info().Msg("frame grabber stopped")
	case <-time.After(s.stopTimeout):
		s.log.Warn().Dur("timeout", s.stopTimeout).Msg("frame grabber did not stop in time")
	}
	s.frames.Clear()
}

// Latest returns a private copy of the newest frame. ok is false until the
// first frame has been decoded. The caller must Close the returned frame.
func (s *Source) Latest() (f types.Frame, ok bool) {
	f, _, ok = s.frames.Peek(func(in types.Frame) types.Frame {
		return types.Frame{Mat: in.Mat.Clone(), Seq: in.Seq, Timestamp: in.Timestamp}
	})
	return f, ok
}

// Seq returns the sequence number of the newest frame without copying it.
func (s *Source) Seq() uint64 { return s.frames.Seq() }

// Connected reports whether the device is currently open.
func (s *Source) Connected() bool { return s.connected.Load() }

// FPS returns the nominal frame rate reported by the device.
func (s *Source) FPS() float64 { return math.Float64frombits(s.fpsBits.Load()) }

// DecodeFailures returns how many grabbed frames failed to decode.
func (s *Source) DecodeFailures() uint64 { return s.decodeFailures.Load() }

// Opens returns how many times a device was successfully opened.
func (s *Source) Opens() uint64 { return s.opens.Load() }

// Config returns the current capture settings.
func (s *Source) Config() config.Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the capture settings. A changed URL forces a reconnect
// and drops the frame taken from the previous origin.
func (s *Source) SetConfig(cfg config.Capture) {
	s.mu.Lock()
	changed := cfg.URL != s.cfg.URL
	s.cfg = cfg
	if changed {
		s.urlGen++
	}
	s.mu.Unlock()
	if changed {
		s.frames.Clear()
		s.log.Info().Str("url", cfg.URL).Msg("stream url changed")
	}
}

// SetURL switches to a new origin.
func (s *Source) SetURL(url string) {
	cfg := s.Config()
	cfg.URL = url
	s.SetConfig(cfg)
}

func (s *Source) snapshot() (config.Capture, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.urlGen
}

func (s *Source) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var (
		dev       Device
		devGen    uint64
		lastFrame time.Time
	)
	disconnect := func(reason string) {
		if dev != nil {
			if err := closeQuietly(dev); err != nil {
				s.log.Debug().Err(err).Msg("closing device")
			}
			dev = nil
		}
		if s.connected.Swap(false) {
			s.log.Warn().Str("reason", reason).Msg("source disconnected")
		}
	}
	defer disconnect("stopped")

	for {
		select {
		case <-stop:
			return
		default:
		}

		cfg, gen := s.snapshot()
		if dev != nil && gen != devGen {
			disconnect("url changed")
		}

		if dev == nil {
			d, err := s.connect(cfg.URL)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to open stream")
				if !sleep(stop, config.Seconds(cfg.ReconnectDelay)) {
					return
				}
				continue
			}
			dev, devGen = d, gen
			lastFrame = s.now()
		}

		published, err := s.step(dev, gen)
		if err != nil {
			disconnect(err.Error())
			if !sleep(stop, config.Seconds(cfg.ReconnectDelay)) {
				return
			}
			continue
		}
		if published {
			lastFrame = s.now()
		} else if s.now().Sub(lastFrame) > config.Seconds(cfg.GrabTimeout) {
			disconnect("grab timeout exceeded")
		}
	}
}

func (s *Source) connect(url string) (dev Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev, err = nil, fmt.Errorf("%w: open panicked: %v", types.ErrSourceUnavailable, r)
		}
	}()
	dev, err = s.open(url)
	if err != nil {
		return nil, err
	}
	if fps := dev.FPS(); fps > 0 && !math.IsInf(fps, 0) && !math.IsNaN(fps) {
		s.fpsBits.Store(math.Float64bits(fps))
	}
	s.opens.Add(1)
	s.connected.Store(true)
	s.log.Info().Str("url", url).Float64("fps", s.FPS()).Msg("connected to stream")
	return dev, nil
}

// step performs one grab/retrieve cycle. It returns an error only when the
// connection must be dropped; a decode failure is counted and skipped.
func (s *Source) step(dev Device, gen uint64) (published bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			published, err = false, fmt.Errorf("%w: device panicked: %v", types.ErrSourceUnavailable, r)
		}
	}()

	if !dev.Grab() {
		return false, fmt.Errorf("%w: grab failed", types.ErrSourceUnavailable)
	}

	mat := gocv.NewMat()
	if !dev.Retrieve(&mat) || mat.Empty() {
		mat.Close()
		n := s.decodeFailures.Add(1)
		s.log.Debug().Err(types.ErrDecodeFailure).Uint64("count", n).Msg("skipping frame")
		return false, nil
	}

	// A URL switch during the grab makes this frame stale.
	if _, cur := s.snapshot(); cur != gen {
		mat.Close()
		return false, nil
	}

	// Only this goroutine puts, so the next mailbox sequence is known.
	s.frames.Put(types.Frame{Mat: mat, Seq: s.frames.Seq() + 1, Timestamp: time.Now()})
	return true, nil
}

func closeQuietly(dev Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return dev.Close()
}

// sleep waits for d or until stop is closed. It reports false on stop.
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
