package fsm

import "sync"

// State describes what the playback surface of a session is presenting.
type State string

const (
	StateIdle         State = "idle"
	StateShowingFrame State = "showing_frame"
	StatePlayingClip  State = "playing_clip"
	// StateBlocked is idle with a manual start pending after autoplay was refused.
	StateBlocked State = "blocked"
)

// Machine is a lightweight deterministic playback state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a state machine in the idle state.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Playing reports whether a clip is currently playing.
func (m *Machine) Playing() bool {
	return m.State() == StatePlayingClip
}

// Blocked reports whether playback waits for a manual start.
func (m *Machine) Blocked() bool {
	return m.State() == StateBlocked
}

// OnFrame enters frame display. A frame ends any clip or block.
func (m *Machine) OnFrame() {
	m.transition(StateShowingFrame)
}

// OnClipStart enters clip playback.
func (m *Machine) OnClipStart() {
	m.transition(StatePlayingClip)
}

// OnDrained leaves clip playback once nothing is left to play.
func (m *Machine) OnDrained() {
	m.transition(StateIdle)
}

// OnBlocked records that autoplay was refused.
func (m *Machine) OnBlocked() {
	m.transition(StateBlocked)
}

// OnReset returns to idle unconditionally.
func (m *Machine) OnReset() {
	m.transition(StateIdle)
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
