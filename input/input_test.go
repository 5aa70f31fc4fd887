package input

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeControls struct {
	resets   int
	triggers int
}

func (f *fakeControls) ResetTracks()        { f.resets++ }
func (f *fakeControls) TriggerClip() string { f.triggers++; return "clips/x.mp4" }

func TestProcessInput(t *testing.T) {
	var (
		state State
		c     fakeControls
		log   = zerolog.Nop()
	)

	assert.False(t, ProcessInput(-1, &state, &c, log))
	assert.False(t, ProcessInput('r', &state, &c, log))
	assert.False(t, ProcessInput('v', &state, &c, log))
	assert.False(t, ProcessInput('d', &state, &c, log))
	assert.True(t, state.DebugMode)
	assert.False(t, ProcessInput('d', &state, &c, log))
	assert.False(t, state.DebugMode)

	assert.Equal(t, 1, c.resets)
	assert.Equal(t, 1, c.triggers)

	assert.True(t, ProcessInput('q', &state, &c, log))
	assert.True(t, ProcessInput(27, &state, &c, log))
}
