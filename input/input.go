package input

import (
	"github.com/rs/zerolog"
)

const keyEscape = 27

// Controls are the pipeline actions reachable from the preview window.
type Controls interface {
	ResetTracks()
	TriggerClip() string
}

// State is the preview window's own toggles.
type State struct {
	DebugMode bool
}

// ProcessInput handles one key press from the preview window. It reports
// whether the program should quit. A key of -1 means none was pressed.
func ProcessInput(key int, state *State, c Controls, log zerolog.Logger) bool {
	switch key {
	case 'q', keyEscape:
		return true

	case 'r':
		c.ResetTracks()
		log.Info().Msg("tracks reset")

	case 'v':
		path := c.TriggerClip()
		log.Info().Str("clip", path).Msg("clip triggered manually")

	case 'd':
		state.DebugMode = !state.DebugMode
		if state.DebugMode {
			log.Info().Msg("debug mode enabled - logs will appear on screen")
		} else {
			log.Info().Msg("debug mode disabled")
		}
	}

	return false
}
