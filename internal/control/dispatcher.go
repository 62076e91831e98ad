package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"

	"github.com/saker-ai/i2v-steer/internal/metrics"
	"github.com/saker-ai/i2v-steer/internal/transport/media/codec"
	"github.com/saker-ai/i2v-steer/pkg/genclient"
)

// DefaultThrottle is the minimum spacing between two sends.
const DefaultThrottle = 100 * time.Millisecond

const requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Backend is the generation service contract the dispatcher drives.
type Backend interface {
	Process(ctx context.Context, req genclient.ProcessRequest) (genclient.ProcessResponse, error)
	Reset(ctx context.Context, model string) (genclient.ResetResponse, error)
	Status(ctx context.Context) (genclient.StatusReport, error)
}

// ResultHandler receives every result of the current epoch. It runs on the
// request goroutine and must not call Invalidate or Reset.
type ResultHandler func(req ControlRequest, result ControlResult)

// DispatcherOptions tunes a Dispatcher. Zero values select defaults.
type DispatcherOptions struct {
	Throttle time.Duration
	Pipeline string
	Now      func() time.Time
	NewID    func() string
}

// Dispatcher turns key changes into backend requests, with at most one in
// flight and at most one send per throttle window.
type Dispatcher struct {
	backend  Backend
	logger   *zap.Logger
	onResult ResultHandler
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	gate      gate
	reference string
	pipeline  string
	latest    KeySet

	// deliverMu serializes result delivery against invalidation so a stale
	// result can never be applied after a reset returned.
	deliverMu sync.Mutex
	pending   sync.WaitGroup
}

// NewDispatcher creates a dispatcher with an empty reference image.
func NewDispatcher(backend Backend, onResult ResultHandler, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newRequestID
	}
	return &Dispatcher{
		backend:  backend,
		logger:   logger,
		onResult: onResult,
		now:      opts.Now,
		newID:    opts.NewID,
		gate:     newGate(opts.Throttle),
		pipeline: opts.Pipeline,
		latest:   KeySet{},
	}
}

// NotifyKeyChange records keys as the latest key state and attempts a send.
// Suppressed attempts are not errors; the next trigger carries the latest keys.
func (d *Dispatcher) NotifyKeyChange(ctx context.Context, keys KeySet) (Outcome, error) {
	d.mu.Lock()
	d.latest = keys.Clone()
	d.mu.Unlock()
	return d.dispatch(ctx)
}

// Send attempts a dispatch with the latest recorded keys.
func (d *Dispatcher) Send(ctx context.Context) (Outcome, error) {
	return d.dispatch(ctx)
}

// Retrigger re-sends the latest keys while at least one key is held.
func (d *Dispatcher) Retrigger(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	held := len(d.latest) > 0
	d.mu.Unlock()
	if !held {
		return OutcomeIdle, nil
	}
	return d.dispatch(ctx)
}

func (d *Dispatcher) dispatch(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	if d.reference == "" {
		d.mu.Unlock()
		metrics.DispatchOutcomes.WithLabelValues(OutcomeNoImage.String()).Inc()
		return OutcomeNoImage, ErrMissingReferenceImage
	}
	now := d.now()
	outcome := d.gate.admit(now)
	if outcome != OutcomeSent {
		d.mu.Unlock()
		metrics.DispatchOutcomes.WithLabelValues(outcome.String()).Inc()
		return outcome, nil
	}
	req := ControlRequest{
		ID:     d.newID(),
		Epoch:  d.gate.epoch,
		Image:  d.reference,
		Keys:   d.latest.Clone(),
		Model:  d.pipeline,
		SentAt: now,
	}
	d.pending.Add(1)
	d.mu.Unlock()

	metrics.DispatchOutcomes.WithLabelValues(OutcomeSent.String()).Inc()
	d.logger.Debug("control request dispatched",
		zap.String("request_id", req.ID),
		zap.Strings("keys", req.Keys.Strings()),
		zap.String("model", req.Model),
		zap.Uint64("epoch", req.Epoch),
	)

	// The request outlives the triggering call; there is no mid-flight cancellation.
	go d.run(context.WithoutCancel(ctx), req)
	return OutcomeSent, nil
}

func (d *Dispatcher) run(ctx context.Context, req ControlRequest) {
	defer d.pending.Done()
	defer d.settle(req)

	start := time.Now()
	result := d.process(ctx, req)
	status := "success"
	if !result.Success {
		status = "failure"
	}
	metrics.RequestCount.WithLabelValues(req.Model, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Model, status).Observe(time.Since(start).Seconds())

	d.deliver(req, result)
}

func (d *Dispatcher) process(ctx context.Context, req ControlRequest) ControlResult {
	resp, err := d.backend.Process(ctx, genclient.ProcessRequest{
		Image: req.Image,
		Keys:  req.Keys.Strings(),
		Model: req.Model,
	})
	if err != nil {
		return failure(req.ID, &TransportError{Op: "process", StatusCode: genclient.StatusCode(err), Err: err})
	}
	if !resp.Success {
		return failure(req.ID, &BackendFailure{Message: resp.Error})
	}
	return ControlResult{
		RequestID:    req.ID,
		Success:      true,
		Action:       resp.Result,
		KeysEcho:     resp.KeysReceived,
		PipelineUsed: resp.ModelUsed,
		ProcessedAt:  resp.ProcessedAt,
		ImageSize:    resp.ImageSizeText(),
		Media:        normalizeFrame(classifyMedia(resp)),
	}
}

// normalizeFrame decodes a frame payload so only real images can become the
// next reference image. Undecodable frames keep their raw data.
func normalizeFrame(media Media) Media {
	if media.Kind != MediaFrame {
		return media
	}
	payload, err := codec.DecodeImage(media.Data)
	if err != nil {
		return media
	}
	media.Data = codec.DataURL(payload.MIMEType, payload.Data)
	media.Decoded = true
	return media
}

// classifyMedia prefers video_data over current_frame.
func classifyMedia(resp genclient.ProcessResponse) Media {
	switch {
	case resp.VideoData != "":
		return Media{Kind: MediaClip, Data: resp.VideoData}
	case resp.CurrentFrame != "":
		return Media{Kind: MediaFrame, Data: codec.ImageDataURL(resp.CurrentFrame)}
	default:
		return Media{Kind: MediaNone}
	}
}

func (d *Dispatcher) deliver(req ControlRequest, result ControlResult) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	stale := req.Epoch != d.gate.epoch
	if !stale && result.Success && result.Media.Kind == MediaFrame && result.Media.Decoded {
		d.reference = result.Media.Data
	}
	d.mu.Unlock()

	if stale {
		metrics.StaleResults.Inc()
		d.logger.Debug("stale control result discarded",
			zap.String("request_id", req.ID),
			zap.Uint64("epoch", req.Epoch),
		)
		return
	}
	if !result.Success {
		d.logger.Warn("control request failed",
			zap.String("request_id", req.ID),
			zap.String("model", req.Model),
			zap.Error(result.Err),
		)
	}
	if d.onResult != nil {
		d.onResult(req, result)
	}
}

func (d *Dispatcher) settle(req ControlRequest) {
	d.mu.Lock()
	d.gate.settle(req.Epoch)
	d.mu.Unlock()
}

// Invalidate drops the in-flight and throttle state and the latest keys.
// Results of requests issued before the call are discarded.
func (d *Dispatcher) Invalidate() {
	d.deliverMu.Lock()
	d.mu.Lock()
	d.gate.reset()
	d.latest = KeySet{}
	d.mu.Unlock()
	d.deliverMu.Unlock()
}

// Reset invalidates local dispatch state, then asks the backend to reset
// the given pipeline. It returns the backend's message.
func (d *Dispatcher) Reset(ctx context.Context, pipeline string) (string, error) {
	d.Invalidate()
	return d.ResetBackend(ctx, pipeline)
}

// ResetBackend asks the backend to reset the pipeline without touching local
// dispatch state.
func (d *Dispatcher) ResetBackend(ctx context.Context, pipeline string) (string, error) {
	resp, err := d.backend.Reset(ctx, pipeline)
	if err != nil {
		return "", &TransportError{Op: "reset", StatusCode: genclient.StatusCode(err), Err: err}
	}
	if !resp.Success {
		return "", &BackendFailure{Message: resp.Error}
	}
	d.logger.Info("pipeline reset", zap.String("model", pipeline), zap.String("message", resp.Message))
	return resp.Message, nil
}

// QueryStatus asks the backend for pipeline status. It never touches dispatch state.
func (d *Dispatcher) QueryStatus(ctx context.Context) (genclient.StatusReport, error) {
	report, err := d.backend.Status(ctx)
	if err != nil {
		return nil, &TransportError{Op: "status", StatusCode: genclient.StatusCode(err), Err: err}
	}
	return report, nil
}

// SetReferenceImage replaces the seed image.
func (d *Dispatcher) SetReferenceImage(image string) {
	d.mu.Lock()
	d.reference = image
	d.mu.Unlock()
}

// ClearReferenceImage drops the seed image.
func (d *Dispatcher) ClearReferenceImage() {
	d.SetReferenceImage("")
}

// ReferenceImage returns the current seed image, or "".
func (d *Dispatcher) ReferenceImage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reference
}

// HasReferenceImage reports whether a seed image is set.
func (d *Dispatcher) HasReferenceImage() bool {
	return d.ReferenceImage() != ""
}

// SelectPipeline sets the pipeline used by subsequent sends.
func (d *Dispatcher) SelectPipeline(pipeline string) {
	d.mu.Lock()
	d.pipeline = pipeline
	d.mu.Unlock()
}

// Pipeline returns the selected pipeline.
func (d *Dispatcher) Pipeline() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipeline
}

// InFlight reports whether a request of the current epoch is outstanding.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gate.inFlight
}

// Wait blocks until every issued request has settled.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func newRequestID() string {
	id, err := nanoid.Generate(requestIDAlphabet, 12)
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return id
}
