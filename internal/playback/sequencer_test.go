package playback

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/saker-ai/i2v-steer/internal/metrics"
	"github.com/saker-ai/i2v-steer/internal/session/fsm"
)

type recordingSurface struct {
	events []string
	played []Clip
	frames []Frame
}

func (r *recordingSurface) ShowFrame(frame Frame) {
	r.frames = append(r.frames, frame)
	r.events = append(r.events, "frame")
}

func (r *recordingSurface) PlayClip(clip Clip) {
	r.played = append(r.played, clip)
	r.events = append(r.events, "play:"+clip.Data)
}

func (r *recordingSurface) StopPlayback() {
	r.events = append(r.events, "stop")
}

func (r *recordingSurface) ManualStartRequired(clip Clip) {
	r.events = append(r.events, "manual:"+clip.Data)
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestSequencer(t *testing.T) (*Sequencer, *recordingSurface) {
	surface := &recordingSurface{}
	return NewSequencer(surface, zaptest.NewLogger(t)), surface
}

func TestClipsPlayInArrivalOrder(t *testing.T) {
	seq, surface := newTestSequencer(t)

	c1 := seq.ReceiveClip("C1")
	c2 := seq.ReceiveClip("C2")
	c3 := seq.ReceiveClip("C3")

	if got := seq.State(); got != fsm.StatePlayingClip {
		t.Fatalf("state=%s, want %s", got, fsm.StatePlayingClip)
	}
	if got := seq.Pending(); got != 2 {
		t.Fatalf("pending=%d, want 2", got)
	}
	if len(surface.played) != 1 {
		t.Fatalf("started=%d clips before completion, want 1", len(surface.played))
	}

	for _, clip := range []Clip{c1, c2, c3} {
		if !seq.OnPlaybackComplete(clip.ID) {
			t.Fatalf("OnPlaybackComplete(%d)=false, want true", clip.ID)
		}
	}

	want := []string{"C1", "C2", "C3"}
	if len(surface.played) != len(want) {
		t.Fatalf("played=%d clips, want %d", len(surface.played), len(want))
	}
	for i, clip := range surface.played {
		if clip.Data != want[i] {
			t.Fatalf("played[%d]=%s, want %s", i, clip.Data, want[i])
		}
	}
	if got := seq.State(); got != fsm.StateIdle {
		t.Fatalf("state=%s, want %s", got, fsm.StateIdle)
	}
}

func TestStaleCompletionIgnored(t *testing.T) {
	seq, surface := newTestSequencer(t)
	c1 := seq.ReceiveClip("C1")
	seq.ReceiveClip("C2")

	if seq.OnPlaybackComplete(c1.ID + 100) {
		t.Fatal("OnPlaybackComplete(unknown)=true, want false")
	}
	if len(surface.played) != 1 {
		t.Fatalf("played=%d, want 1", len(surface.played))
	}
}

func TestFrameDiscardsQueue(t *testing.T) {
	seq, surface := newTestSequencer(t)
	seq.ReceiveClip("C1")
	seq.ReceiveClip("C2")
	seq.ReceiveClip("C3")

	if err := seq.ReceiveFrame(pngBase64(t)); err != nil {
		t.Fatalf("ReceiveFrame returned error: %v", err)
	}

	if got := seq.Pending(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
	if got := seq.State(); got != fsm.StateShowingFrame {
		t.Fatalf("state=%s, want %s", got, fsm.StateShowingFrame)
	}
	if _, ok := seq.Current(); ok {
		t.Fatal("Current ok=true after frame, want false")
	}
	if len(surface.frames) != 1 || surface.frames[0].Width != 4 {
		t.Fatalf("frames=%+v, want one 4px frame", surface.frames)
	}
	last := surface.events[len(surface.events)-2:]
	if last[0] != "stop" || last[1] != "frame" {
		t.Fatalf("last events=%v, want [stop frame]", last)
	}
}

func TestUndecodableFrameStillSupersedesQueue(t *testing.T) {
	seq, surface := newTestSequencer(t)
	seq.ReceiveClip("C1")
	seq.ReceiveClip("C2")

	err := seq.ReceiveFrame("%%%")
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("ReceiveFrame error=%v, want DecodeError", err)
	}
	if got := seq.Pending(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
	if got := seq.State(); got != fsm.StateIdle {
		t.Fatalf("state=%s, want %s", got, fsm.StateIdle)
	}
	if len(surface.frames) != 0 {
		t.Fatalf("frames=%d, want 0", len(surface.frames))
	}

	// Playback recovers with the next clip.
	seq.ReceiveClip("C3")
	if got := surface.played[len(surface.played)-1].Data; got != "C3" {
		t.Fatalf("played=%s, want C3", got)
	}
}

func TestClipAfterFrameStartsImmediately(t *testing.T) {
	seq, surface := newTestSequencer(t)
	if err := seq.ReceiveFrame(pngBase64(t)); err != nil {
		t.Fatalf("ReceiveFrame returned error: %v", err)
	}
	seq.ReceiveClip("C1")

	if got := seq.State(); got != fsm.StatePlayingClip {
		t.Fatalf("state=%s, want %s", got, fsm.StatePlayingClip)
	}
	if len(surface.played) != 1 {
		t.Fatalf("played=%d, want 1", len(surface.played))
	}
}

func TestBlockedWaitsForResume(t *testing.T) {
	seq, surface := newTestSequencer(t)
	c1 := seq.ReceiveClip("C1")

	if !seq.OnPlaybackBlocked(c1.ID) {
		t.Fatal("OnPlaybackBlocked=false, want true")
	}
	if got := seq.State(); got != fsm.StateBlocked {
		t.Fatalf("state=%s, want %s", got, fsm.StateBlocked)
	}

	seq.ReceiveClip("C2")
	if len(surface.played) != 1 {
		t.Fatalf("played=%d while blocked, want 1", len(surface.played))
	}
	if seq.OnPlaybackComplete(c1.ID) {
		t.Fatal("OnPlaybackComplete while blocked=true, want false")
	}

	if !seq.Resume() {
		t.Fatal("Resume=false, want true")
	}
	if got := surface.played[len(surface.played)-1].Data; got != "C1" {
		t.Fatalf("resumed clip=%s, want C1", got)
	}
	seq.OnPlaybackComplete(c1.ID)
	if got := surface.played[len(surface.played)-1].Data; got != "C2" {
		t.Fatalf("next clip=%s, want C2", got)
	}
}

func TestResumeWhenNotBlocked(t *testing.T) {
	seq, _ := newTestSequencer(t)
	if seq.Resume() {
		t.Fatal("Resume on idle=true, want false")
	}
}

func TestResetAlwaysReturnsToIdle(t *testing.T) {
	setups := map[string]func(*Sequencer){
		"idle": func(*Sequencer) {},
		"playing": func(s *Sequencer) {
			s.ReceiveClip("C1")
			s.ReceiveClip("C2")
		},
		"blocked": func(s *Sequencer) {
			clip := s.ReceiveClip("C1")
			s.OnPlaybackBlocked(clip.ID)
			s.ReceiveClip("C2")
		},
		"frame": func(s *Sequencer) {
			_ = s.ReceiveFrame(pngBase64(t))
		},
	}
	for name, setup := range setups {
		seq, surface := newTestSequencer(t)
		setup(seq)
		seq.Reset()

		if got := seq.State(); got != fsm.StateIdle {
			t.Fatalf("%s: state=%s, want %s", name, got, fsm.StateIdle)
		}
		if got := seq.Pending(); got != 0 {
			t.Fatalf("%s: pending=%d, want 0", name, got)
		}
		if last := surface.events[len(surface.events)-1]; last != "stop" {
			t.Fatalf("%s: last event=%s, want stop", name, last)
		}
	}
}

func TestClipIDsAreUnique(t *testing.T) {
	seq, _ := newTestSequencer(t)
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		clip := seq.ReceiveClip(fmt.Sprintf("C%d", i))
		if seen[clip.ID] {
			t.Fatalf("duplicate clip id %d", clip.ID)
		}
		seen[clip.ID] = true
	}
}

func TestQueueDepthGaugeSumsSessions(t *testing.T) {
	base := testutil.ToFloat64(metrics.PlaybackQueueDepth)
	first, _ := newTestSequencer(t)
	second, _ := newTestSequencer(t)

	for _, data := range []string{"A1", "A2", "A3"} {
		first.ReceiveClip(data)
	}
	for _, data := range []string{"B1", "B2"} {
		second.ReceiveClip(data)
	}
	if got := testutil.ToFloat64(metrics.PlaybackQueueDepth) - base; got != 3 {
		t.Fatalf("depth=%v, want 3 (2 + 1 waiting)", got)
	}

	second.Reset()
	if got := testutil.ToFloat64(metrics.PlaybackQueueDepth) - base; got != 2 {
		t.Fatalf("depth after reset=%v, want 2", got)
	}
	first.Close()
	if got := testutil.ToFloat64(metrics.PlaybackQueueDepth) - base; got != 0 {
		t.Fatalf("depth after close=%v, want 0", got)
	}
}
