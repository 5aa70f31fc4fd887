package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsNewest(t *testing.T) {
	ring := NewRing(2)
	log := New(Options{Writer: &bytes.Buffer{}, Ring: ring})

	log.Info().Msg("one")
	log.Warn().Msg("two")
	log.Info().Msg("three")

	assert.Equal(t, []string{"warn: two", "info: three"}, ring.Lines())
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	quiet := New(Options{Writer: &buf})
	quiet.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	verbose := New(Options{Writer: &buf, Debug: true})
	verbose.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
