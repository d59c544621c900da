// Package sym defines the glyphs dispatchd attaches to log lines and CLI
// output so each subsystem is recognisable at a glance.
package sym

// System symbols.
const (
	Pulse      = "꩜" // dispatch cycle, workers, retries
	PulseOpen  = "✿" // daemon startup
	PulseClose = "❀" // daemon shutdown and drain
	DB         = "⊔" // schedule store and connections
)

// States of the dispatch loop as shown in logs and the state gauge.
const (
	AwaitingStore = "◌"
	Polling       = "●"
	Stopped       = "■"
)

var stateGlyphs = map[string]string{
	"awaiting_store": AwaitingStore,
	"polling":        Polling,
	"stopped":        Stopped,
}

// ForState returns the glyph for a dispatch loop state name, or Pulse.
func ForState(state string) string {
	if g, ok := stateGlyphs[state]; ok {
		return g
	}
	return Pulse
}
