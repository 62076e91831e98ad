// Package playback sequences frames and clips onto a single playback surface.
package playback

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/i2v-steer/internal/metrics"
	"github.com/saker-ai/i2v-steer/internal/session/fsm"
	"github.com/saker-ai/i2v-steer/internal/transport/media/codec"
)

// Clip is one queued video segment. ID is unique per sequencer.
type Clip struct {
	ID   uint64
	Data string
}

// Frame is a decoded still ready for display.
type Frame struct {
	DataURL  string
	MIMEType string
	Width    int
	Height   int
}

// Surface renders what the sequencer decides. Calls are made while the
// sequencer holds its lock, so a Surface must not call back into it.
type Surface interface {
	ShowFrame(frame Frame)
	PlayClip(clip Clip)
	StopPlayback()
	ManualStartRequired(clip Clip)
}

// DecodeError reports a frame that could not be rendered even after the
// fallback re-interpretation.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "frame could not be decoded: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Sequencer plays clips strictly in arrival order, one at a time.
type Sequencer struct {
	surface Surface
	logger  *zap.Logger
	machine *fsm.Machine

	mu      sync.Mutex
	queue   []Clip
	current *Clip
	nextID  uint64
	// reported is this sequencer's share of the process-wide depth gauge.
	reported int
}

// NewSequencer creates an idle sequencer.
func NewSequencer(surface Surface, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		surface: surface,
		logger:  logger,
		machine: fsm.New(),
	}
}

// ReceiveFrame discards pending clips and displays the frame. A frame that
// cannot be decoded leaves the sequencer idle and returns a DecodeError.
func (s *Sequencer) ReceiveFrame(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil || len(s.queue) > 0 {
		s.logger.Debug("frame supersedes queued clips", zap.Int("dropped", len(s.queue)))
		s.surface.StopPlayback()
	}
	s.queue = nil
	s.current = nil
	s.observeDepth()

	payload, err := codec.DecodeImage(data)
	if err != nil {
		s.machine.OnReset()
		metrics.PlaybackEvents.WithLabelValues("decode_error").Inc()
		return &DecodeError{Err: err}
	}

	s.machine.OnFrame()
	metrics.PlaybackEvents.WithLabelValues("frame").Inc()
	s.surface.ShowFrame(Frame{
		DataURL:  codec.DataURL(payload.MIMEType, payload.Data),
		MIMEType: payload.MIMEType,
		Width:    payload.Width,
		Height:   payload.Height,
	})
	return nil
}

// ReceiveClip appends a clip and starts it when nothing is playing.
// While a manual start is pending, clips only queue.
func (s *Sequencer) ReceiveClip(data string) Clip {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	clip := Clip{ID: s.nextID, Data: data}
	s.queue = append(s.queue, clip)
	metrics.PlaybackEvents.WithLabelValues("clip").Inc()

	if !s.machine.Playing() && !s.machine.Blocked() {
		s.startNextLocked()
	}
	s.observeDepth()
	return clip
}

// OnPlaybackComplete advances past the clip with the given id.
// Events for any clip other than the current one are ignored.
func (s *Sequencer) OnPlaybackComplete(clipID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Playing() || s.current == nil || s.current.ID != clipID {
		return false
	}
	metrics.PlaybackEvents.WithLabelValues("complete").Inc()
	s.startNextLocked()
	s.observeDepth()
	return true
}

// OnPlaybackBlocked parks the current clip until Resume. No retry is made.
func (s *Sequencer) OnPlaybackBlocked(clipID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Playing() || s.current == nil || s.current.ID != clipID {
		return false
	}
	metrics.PlaybackEvents.WithLabelValues("blocked").Inc()
	s.machine.OnBlocked()
	s.surface.ManualStartRequired(*s.current)
	return true
}

// Resume restarts the parked clip after a manual start.
func (s *Sequencer) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Blocked() || s.current == nil {
		return false
	}
	metrics.PlaybackEvents.WithLabelValues("resume").Inc()
	s.machine.OnClipStart()
	s.surface.PlayClip(*s.current)
	return true
}

// Reset drops every clip, stops playback and returns to idle.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = nil
	s.current = nil
	s.machine.OnReset()
	s.observeDepth()
	metrics.PlaybackEvents.WithLabelValues("reset").Inc()
	s.surface.StopPlayback()
}

// State returns the playback state.
func (s *Sequencer) State() fsm.State {
	return s.machine.State()
}

// Pending returns the number of clips waiting behind the current one.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Current returns the clip playing or parked, if any.
func (s *Sequencer) Current() (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Clip{}, false
	}
	return *s.current, true
}

func (s *Sequencer) startNextLocked() {
	if len(s.queue) == 0 {
		s.current = nil
		s.machine.OnDrained()
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &next
	s.machine.OnClipStart()
	s.surface.PlayClip(next)
}

func (s *Sequencer) observeDepth() {
	depth := len(s.queue)
	if depth == s.reported {
		return
	}
	metrics.PlaybackQueueDepth.Add(float64(depth - s.reported))
	s.reported = depth
}

// Close drops queued clips and withdraws them from the depth gauge without
// touching the surface.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.current = nil
	s.machine.OnReset()
	s.observeDepth()
}
