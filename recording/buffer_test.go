package recording

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"skytracker/config"
	"skytracker/types"
)

type written struct {
	path   string
	values []uint8
	fps    float64
}

type fakeWriter struct {
	mu    sync.Mutex
	clips []written
	err   error
	done  chan struct{}
}

func newFakeWriter() *fakeWriter { return &fakeWriter{done: make(chan struct{}, 16)} }

func (w *fakeWriter) WriteClip(path string, frames []gocv.Mat, fps float64) error {
	c := written{path: path, fps: fps}
	for _, f := range frames {
		c.values = append(c.values, f.GetUCharAt(0, 0))
	}
	w.mu.Lock()
	w.clips = append(w.clips, c)
	w.mu.Unlock()
	w.done <- struct{}{}
	return w.err
}

func (w *fakeWriter) wait(t *testing.T) written {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("clip was not written")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clips[len(w.clips)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func frame(v uint8) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(v), 0, 0, 0), 4, 4, gocv.MatTypeCV8U)
}

func feed(b *Buffer, values ...uint8) {
	for _, v := range values {
		m := frame(v)
		b.Feed(m)
		m.Close()
	}
}

func rollingValues(b *Buffer) []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint8
	for _, m := range b.rolling {
		out = append(out, m.GetUCharAt(0, 0))
	}
	return out
}

func testConfig() config.Recording {
	return config.Recording{ClipPreBuffer: 1, ClipPostBuffer: 2, ClipDir: "clips", DBPath: "db", ClipFPS: 15}
}

func TestRollingWindowKeepsNewest(t *testing.T) {
	b := New(testConfig(), 5, WithWriter(newFakeWriter()))
	defer b.Close()
	require.Equal(t, 5, b.Capacity())

	feed(b, 1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, []uint8{3, 4, 5, 6, 7}, rollingValues(b))
}

func TestSetFPSPreservesContent(t *testing.T) {
	b := New(testConfig(), 4, WithWriter(newFakeWriter()))
	defer b.Close()
	feed(b, 1, 2, 3, 4)

	b.SetFPS(2)
	assert.Equal(t, 2, b.Capacity())
	assert.Equal(t, []uint8{3, 4}, rollingValues(b))

	b.SetFPS(6)
	assert.Equal(t, []uint8{3, 4}, rollingValues(b))
	feed(b, 5)
	assert.Equal(t, []uint8{3, 4, 5}, rollingValues(b))
}

func TestCapacityNeverBelowOne(t *testing.T) {
	cfg := testConfig()
	cfg.ClipPreBuffer = 0
	b := New(cfg, 30, WithWriter(newFakeWriter()))
	defer b.Close()
	assert.Equal(t, 1, b.Capacity())
}

func TestTriggerTwiceExtendsSameClip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)}
	w := newFakeWriter()
	b := New(testConfig(), 3, WithWriter(w), WithClock(clock.Now))
	defer b.Close()

	feed(b, 1, 2, 3)
	id1, path := b.Trigger()
	assert.True(t, strings.HasPrefix(path, "clips/clip_20260301_220000_"))
	assert.True(t, strings.HasSuffix(path, id1[:8]+".mp4"))

	clock.Advance(1500 * time.Millisecond)
	feed(b, 4)
	id2, path2 := b.Trigger()
	assert.Equal(t, id1, id2)
	assert.Equal(t, path, path2)

	// Past the first deadline but before the extended one.
	clock.Advance(1 * time.Second)
	feed(b, 5)
	assert.True(t, b.Recording())
	assert.Equal(t, 2500*time.Millisecond, b.Elapsed())

	clock.Advance(1 * time.Second)
	feed(b, 6)
	assert.False(t, b.Recording())

	clip := w.wait(t)
	assert.Equal(t, path, clip.path)
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, clip.values)
	assert.Equal(t, 15.0, clip.fps)
}

func TestNewTriggerAfterFinalizeGetsNewID(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := newFakeWriter()
	b := New(testConfig(), 3, WithWriter(w), WithClock(clock.Now))
	defer b.Close()

	id1, _ := b.Trigger()
	clock.Advance(3 * time.Second)
	feed(b, 9)
	w.wait(t)

	id2, _ := b.Trigger()
	assert.NotEqual(t, id1, id2)
}

func TestFlushForcesWrite(t *testing.T) {
	w := newFakeWriter()
	b := New(testConfig(), 3, WithWriter(w))
	feed(b, 7, 8)
	b.Trigger()
	require.NoError(t, b.Close())

	clip := w.wait(t)
	assert.Equal(t, []uint8{7, 8}, clip.values)
	assert.False(t, b.Recording())
}

func TestWriteFailureDoesNotStopBuffer(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	w := newFakeWriter()
	w.err = types.ErrClipWrite
	b := New(testConfig(), 3, WithWriter(w), WithClock(clock.Now))
	defer b.Close()

	b.Trigger()
	clock.Advance(3 * time.Second)
	feed(b, 1)
	w.wait(t)

	feed(b, 2, 3)
	assert.Equal(t, []uint8{1, 2, 3}, rollingValues(b))
}

func TestVideoFileWriterRejectsEmptyClip(t *testing.T) {
	err := VideoFileWriter{}.WriteClip(t.TempDir()+"/x.mp4", nil, 15)
	assert.True(t, errors.Is(err, types.ErrClipWrite))
}
