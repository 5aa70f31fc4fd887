package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"skytracker/config"
)

type fakeDevice struct {
	grab   func() bool
	decode func() bool
	fps    float64
	closed atomic.Bool
}

func (d *fakeDevice) Grab() bool {
	time.Sleep(time.Millisecond)
	return d.grab()
}

func (d *fakeDevice) Retrieve(dst *gocv.Mat) bool {
	if !d.decode() {
		return false
	}
	m := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (d *fakeDevice) FPS() float64 { return d.fps }
func (d *fakeDevice) Close() error { d.closed.Store(true); return nil }

func always(v bool) func() bool { return func() bool { return v } }

func testCaptureConfig() config.Capture {
	return config.Capture{URL: "fake://cam", ReconnectDelay: 0.005, GrabTimeout: 10}
}

func TestSourceRetriesUntilOpen(t *testing.T) {
	var attempts atomic.Int32
	dev := &fakeDevice{grab: always(true), decode: always(true), fps: 25}
	src := New(testCaptureConfig(), WithOpener(func(string) (Device, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return dev, nil
	}))

	src.Start()
	src.Start() // idempotent

	require.Eventually(t, func() bool {
		f, ok := src.Latest()
		if ok {
			f.Close()
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, src.Connected())
	assert.Equal(t, 25.0, src.FPS())
	assert.Equal(t, uint64(1), src.Opens())
	assert.Equal(t, int32(3), attempts.Load())

	src.Stop()
	assert.False(t, src.Connected())
	assert.True(t, dev.closed.Load())
}

func TestSourceSequenceIncreases(t *testing.T) {
	src := New(testCaptureConfig(), WithOpener(func(string) (Device, error) {
		return &fakeDevice{grab: always(true), decode: always(true)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Seq() >= 3 }, 2*time.Second, 5*time.Millisecond)
	f1, ok := src.Latest()
	require.True(t, ok)
	defer f1.Close()

	require.Eventually(t, func() bool { return src.Seq() > f1.Seq }, 2*time.Second, 5*time.Millisecond)
	f2, ok := src.Latest()
	require.True(t, ok)
	defer f2.Close()
	assert.Greater(t, f2.Seq, f1.Seq)
	assert.False(t, f2.Mat.Empty())
}

func TestSourceDecodeFailureKeepsConnection(t *testing.T) {
	src := New(testCaptureConfig(), WithOpener(func(string) (Device, error) {
		return &fakeDevice{grab: always(true), decode: always(false)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.DecodeFailures() > 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, src.Connected())
	assert.Equal(t, uint64(1), src.Opens())
	_, ok := src.Latest()
	assert.False(t, ok)
}

func TestSourceWatchdogForcesReconnect(t *testing.T) {
	cfg := testCaptureConfig()
	cfg.GrabTimeout = 0.02
	src := New(cfg, WithOpener(func(string) (Device, error) {
		return &fakeDevice{grab: always(true), decode: always(false)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Opens() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSourceGrabFailureReconnects(t *testing.T) {
	src := New(testCaptureConfig(), WithOpener(func(string) (Device, error) {
		return &fakeDevice{grab: always(false), decode: always(true)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Opens() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSourceRecoversFromDevicePanic(t *testing.T) {
	src := New(testCaptureConfig(), WithOpener(func(string) (Device, error) {
		return &fakeDevice{grab: func() bool { panic("driver crashed") }, decode: always(true)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Opens() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSourceSetURLReconnects(t *testing.T) {
	var (
		mu   sync.Mutex
		urls []string
	)
	src := New(testCaptureConfig(), WithOpener(func(url string) (Device, error) {
		mu.Lock()
		urls = append(urls, url)
		mu.Unlock()
		return &fakeDevice{grab: always(true), decode: always(true)}, nil
	}))
	src.Start()
	defer src.Stop()

	require.Eventually(t, func() bool { return src.Opens() == 1 }, 2*time.Second, 5*time.Millisecond)
	src.SetURL("fake://other")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(urls) >= 2 && urls[len(urls)-1] == "fake://other"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "fake://other", src.Config().URL)
}

func TestSourceStopWithoutStart(t *testing.T) {
	src := New(testCaptureConfig())
	src.Stop()
	assert.False(t, src.Connected())
}
