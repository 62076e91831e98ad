package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/i2v-steer/internal/playback"
	"github.com/saker-ai/i2v-steer/internal/transport/media/codec"
)

// Events receives everything a Controller reports to its user. Nil
// callbacks are skipped.
type Events struct {
	OnKeys   func(keys KeySet)
	OnStatus func(message string)
	OnResult func(req ControlRequest, result ControlResult)
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Throttle             time.Duration
	Pipelines            []string
	DefaultPipeline      string
	AllowCustomPipelines bool
	Now                  func() time.Time
}

// Controller wires the key tracker, dispatcher and playback sequencer of a
// single steering session.
type Controller struct {
	tracker    *Tracker
	dispatcher *Dispatcher
	sequencer  *playback.Sequencer
	events     Events
	logger     *zap.Logger

	pipelines   []string
	allowCustom bool
}

// NewController creates a controller that renders onto surface.
func NewController(backend Backend, surface playback.Surface, events Events, opts ControllerOptions, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	pipeline := opts.DefaultPipeline
	if pipeline == "" && len(opts.Pipelines) > 0 {
		pipeline = opts.Pipelines[0]
	}

	c := &Controller{
		events:      events,
		logger:      logger,
		pipelines:   slices.Clone(opts.Pipelines),
		allowCustom: opts.AllowCustomPipelines,
		sequencer:   playback.NewSequencer(surface, logger.Named("playback")),
	}
	c.tracker = NewTracker(c.emitKeys)
	c.dispatcher = NewDispatcher(backend, c.handleResult, DispatcherOptions{
		Throttle: opts.Throttle,
		Pipeline: pipeline,
		Now:      opts.Now,
	}, logger.Named("dispatch"))
	return c
}

// PressKey marks key held and dispatches when the key state changed.
func (c *Controller) PressKey(ctx context.Context, key ControlKey) Outcome {
	if !c.tracker.Press(key) {
		return OutcomeIdle
	}
	return c.keysChanged(ctx)
}

// ReleaseKey marks key released and dispatches when the key state changed.
func (c *Controller) ReleaseKey(ctx context.Context, key ControlKey) Outcome {
	if !c.tracker.Release(key) {
		return OutcomeIdle
	}
	return c.keysChanged(ctx)
}

func (c *Controller) keysChanged(ctx context.Context) Outcome {
	outcome, err := c.dispatcher.NotifyKeyChange(ctx, c.tracker.Keys())
	c.reportDispatch(outcome, err)
	return outcome
}

// Send dispatches the current keys on demand, through the same gates as
// key events.
func (c *Controller) Send(ctx context.Context) Outcome {
	outcome, err := c.dispatcher.Send(ctx)
	c.reportDispatch(outcome, err)
	return outcome
}

// Retrigger re-sends the held keys. Missing images are not reported here
// so a periodic caller does not flood the status line.
func (c *Controller) Retrigger(ctx context.Context) Outcome {
	outcome, err := c.dispatcher.Retrigger(ctx)
	if err != nil && !errors.Is(err, ErrMissingReferenceImage) {
		c.logger.Warn("retrigger failed", zap.Error(err))
	}
	if outcome == OutcomeSent {
		c.status("sending to server...")
	}
	return outcome
}

func (c *Controller) reportDispatch(outcome Outcome, err error) {
	switch {
	case errors.Is(err, ErrMissingReferenceImage):
		c.status("please upload an image first")
	case err != nil:
		c.status("send failed: " + err.Error())
	case outcome == OutcomeSent:
		c.status("sending to server...")
	}
}

// UploadImage validates image and makes it the reference image.
func (c *Controller) UploadImage(image string) error {
	payload, err := codec.DecodeImage(image)
	if err != nil {
		c.status("image upload failed: " + err.Error())
		return fmt.Errorf("upload image: %w", err)
	}
	c.dispatcher.SetReferenceImage(codec.DataURL(payload.MIMEType, payload.Data))
	c.logger.Info("reference image uploaded",
		zap.String("mime", payload.MIMEType),
		zap.Int("width", payload.Width),
		zap.Int("height", payload.Height),
	)
	c.status("image uploaded, hold WASD to steer")
	return nil
}

// SelectPipeline switches the pipeline used by subsequent sends.
func (c *Controller) SelectPipeline(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || (!slices.Contains(c.pipelines, id) && !c.allowCustom) {
		return fmt.Errorf("%w: %q", ErrUnknownPipeline, id)
	}
	c.dispatcher.SelectPipeline(id)
	c.logger.Info("pipeline selected", zap.String("model", id))
	return nil
}

// Pipelines returns the configured catalog.
func (c *Controller) Pipelines() []string {
	return slices.Clone(c.pipelines)
}

// Pipeline returns the selected pipeline.
func (c *Controller) Pipeline() string {
	return c.dispatcher.Pipeline()
}

// Keys returns the held keys.
func (c *Controller) Keys() KeySet {
	return c.tracker.Keys()
}

// Clear drops local state at once, then resets the backend pipeline. Results
// still in flight are discarded.
func (c *Controller) Clear(ctx context.Context) error {
	c.ClearLocal()
	return c.ResetPipeline(ctx)
}

// ClearLocal invalidates in-flight results and drops held keys, the
// reference image and queued playback. It never touches the network.
func (c *Controller) ClearLocal() {
	c.dispatcher.Invalidate()
	c.tracker.Clear()
	c.dispatcher.ClearReferenceImage()
	c.sequencer.Reset()
	c.status("cleared")
}

// ResetPipeline asks the backend to reset the selected pipeline.
func (c *Controller) ResetPipeline(ctx context.Context) error {
	pipeline := c.dispatcher.Pipeline()
	message, err := c.dispatcher.ResetBackend(ctx, pipeline)
	if err != nil {
		c.logger.Warn("pipeline reset failed", zap.String("model", pipeline), zap.Error(err))
		c.status("reset failed: " + err.Error())
		return err
	}
	if message == "" {
		message = "pipeline " + pipeline + " reset"
	}
	c.status(message)
	return nil
}

// TestConnection queries backend status and reports one status line.
func (c *Controller) TestConnection(ctx context.Context) (string, error) {
	c.status("testing server connection...")
	report, err := c.dispatcher.QueryStatus(ctx)
	if err != nil {
		c.status("connection failed: " + err.Error())
		return "", err
	}
	parts := make([]string, 0, len(report))
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		parts = append(parts, id+"="+report[id].Status)
	}
	line := "connection ok"
	if len(parts) > 0 {
		line += ": " + strings.Join(parts, ", ")
	}
	c.status(line)
	return line, nil
}

// PlaybackComplete forwards a clip completion from the surface.
func (c *Controller) PlaybackComplete(clipID uint64) bool {
	return c.sequencer.OnPlaybackComplete(clipID)
}

// PlaybackBlocked forwards an autoplay refusal from the surface.
func (c *Controller) PlaybackBlocked(clipID uint64) bool {
	if !c.sequencer.OnPlaybackBlocked(clipID) {
		return false
	}
	c.status("playback blocked, click to start")
	return true
}

// ResumePlayback restarts the parked clip after a user gesture.
func (c *Controller) ResumePlayback() bool {
	return c.sequencer.Resume()
}

// Sequencer exposes playback state for inspection.
func (c *Controller) Sequencer() *playback.Sequencer {
	return c.sequencer
}

// Dispatcher exposes dispatch state for inspection.
func (c *Controller) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Close waits for outstanding requests and drops queued playback. Results
// still in flight are discarded.
func (c *Controller) Close() {
	c.dispatcher.Invalidate()
	c.dispatcher.Wait()
	c.sequencer.Close()
}

func (c *Controller) handleResult(req ControlRequest, result ControlResult) {
	if result.Success {
		c.status(c.present(req, result.Media))
	} else {
		var backendErr *BackendFailure
		if errors.As(result.Err, &backendErr) {
			message := backendErr.Message
			if message == "" {
				message = "unknown error"
			}
			c.status("processing failed: " + message)
		} else {
			c.status("send failed: " + result.Message)
		}
	}
	if c.events.OnResult != nil {
		c.events.OnResult(req, result)
	}
}

// present hands media to the sequencer and returns the status line for it.
func (c *Controller) present(req ControlRequest, media Media) string {
	switch media.Kind {
	case MediaClip:
		c.sequencer.ReceiveClip(media.Data)
	case MediaFrame:
		if err := c.sequencer.ReceiveFrame(media.Data); err != nil {
			c.logger.Warn("frame not rendered", zap.String("request_id", req.ID), zap.Error(err))
			return err.Error()
		}
	}
	return "processing complete"
}

func (c *Controller) emitKeys(keys KeySet) {
	if c.events.OnKeys != nil {
		c.events.OnKeys(keys)
	}
}

func (c *Controller) status(message string) {
	if c.events.OnStatus != nil {
		c.events.OnStatus(message)
	}
}
