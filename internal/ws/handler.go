package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/i2v-steer/internal/config"
	"github.com/saker-ai/i2v-steer/internal/control"
	"github.com/saker-ai/i2v-steer/internal/metrics"
	"github.com/saker-ai/i2v-steer/internal/playback"
	"github.com/saker-ai/i2v-steer/internal/protocol"
	"github.com/saker-ai/i2v-steer/internal/storage"
)

const writeTimeout = 10 * time.Second

// Handler represents a handler.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	backend  control.Backend
	journal  *storage.Journal
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	conn       *websocket.Conn
	sendMu     sync.Mutex
	logger     *zap.Logger
	handler    *Handler
	id         string
	journalUID string
	controller *control.Controller
	async      sync.WaitGroup
}

// NewHandler creates a bridge handler. journal may be nil.
func NewHandler(logger *zap.Logger, cfg appconfig.Config, backend control.Backend, journal *storage.Journal) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		config:   cfg,
		backend:  backend,
		journal:  journal,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 64,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and runs one steering session until the page
// disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		conn:    conn,
		handler: h,
		id:      uuid.NewString(),
	}
	sess.logger = h.logger.With(zap.String("session_id", sess.id))
	sess.controller = control.NewController(h.backend, sess, sess.events(), control.ControllerOptions{
		Throttle:             h.config.Control.Throttle,
		Pipelines:            h.config.PipelineIDs(),
		DefaultPipeline:      h.config.Pipelines.Default,
		AllowCustomPipelines: h.config.Pipelines.AllowCustom,
	}, sess.logger)
	sess.openJournal()

	sess.logger.Info("ws session opened",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("pipeline", sess.controller.Pipeline()),
		zap.String("journal_uid", sess.journalUID),
	)

	h.registerSession(sess)
	sess.sendPipelines()

	if interval := h.config.Control.RetriggerInterval; interval > 0 {
		sess.async.Add(1)
		go func() {
			defer sess.async.Done()
			sess.retriggerLoop(ctx, interval)
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		var msg protocol.ClientCommand
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendError("invalid json")
			continue
		}
		if msg.Type != protocol.TypeHeartbeat {
			sess.logger.Debug("ws incoming message", zap.String("type", msg.Type))
		}
		sess.dispatchIncoming(ctx, msg)
	}

	cancel()
	sess.async.Wait()
	sess.controller.Close()
	sess.logger.Info("ws session closed")
	h.unregisterSession(sess.id)
}

// SessionIDs lists connected sessions.
func (h *Handler) SessionIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

func (h *Handler) unregisterSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

func (s *session) openJournal() {
	if s.handler.journal == nil {
		return
	}
	uid, err := s.handler.journal.CreateSession()
	if err != nil {
		s.logger.Warn("journal create failed", zap.Error(err))
		return
	}
	s.journalUID = uid
}

func (s *session) retriggerLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.controller.Retrigger(ctx)
		}
	}
}

// goAsync runs a backend round trip off the read loop so key events keep
// flowing while it waits.
func (s *session) goAsync(fn func()) {
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		fn()
	}()
}

func (s *session) events() control.Events {
	return control.Events{
		OnKeys: func(keys control.KeySet) {
			s.sendJSON(map[string]any{"type": protocol.TypeKeys, "keys": keys.Strings()})
		},
		OnStatus: func(message string) {
			s.sendJSON(map[string]any{"type": protocol.TypeStatus, "message": message})
		},
		OnResult: s.onResult,
	}
}

func (s *session) onResult(req control.ControlRequest, result control.ControlResult) {
	summary := protocol.ResultSummary{
		Type:         protocol.TypeResult,
		RequestID:    result.RequestID,
		Success:      result.Success,
		Action:       result.Action,
		KeysReceived: result.KeysEcho,
		ModelUsed:    result.PipelineUsed,
		ProcessedAt:  result.ProcessedAt,
		ImageSize:    result.ImageSize,
	}
	if result.Success {
		summary.Media = result.Media.Kind.String()
	} else {
		summary.Error = result.Message
	}
	s.recordStep(req, result)
	s.sendJSON(summary)
}

func (s *session) recordStep(req control.ControlRequest, result control.ControlResult) {
	if s.handler.journal == nil || s.journalUID == "" {
		return
	}
	step := storage.Step{
		RequestID:   req.ID,
		Keys:        req.Keys.Strings(),
		Pipeline:    req.Model,
		Success:     result.Success,
		Action:      result.Action,
		ProcessedAt: result.ProcessedAt,
		LatencyMS:   time.Since(req.SentAt).Milliseconds(),
		Error:       result.Message,
	}
	if result.Success {
		step.Media = result.Media.Kind.String()
	}
	if err := s.handler.journal.Append(s.journalUID, step); err != nil {
		s.logger.Warn("journal append failed", zap.Error(err))
	}
}

func (s *session) sendPipelines() {
	s.sendJSON(map[string]any{
		"type":         protocol.TypePipelines,
		"pipelines":    s.handler.config.Pipelines.Catalog,
		"selected":     s.controller.Pipeline(),
		"allow_custom": s.handler.config.Pipelines.AllowCustom,
	})
}

// ShowFrame implements playback.Surface.
func (s *session) ShowFrame(frame playback.Frame) {
	s.sendJSON(map[string]any{
		"type":   protocol.TypeShowFrame,
		"data":   frame.DataURL,
		"width":  frame.Width,
		"height": frame.Height,
	})
}

// PlayClip implements playback.Surface.
func (s *session) PlayClip(clip playback.Clip) {
	s.sendJSON(map[string]any{"type": protocol.TypePlayClip, "clip_id": clip.ID, "data": clip.Data})
}

// StopPlayback implements playback.Surface.
func (s *session) StopPlayback() {
	s.sendJSON(map[string]any{"type": protocol.TypeStopPlayback})
}

// ManualStartRequired implements playback.Surface.
func (s *session) ManualStartRequired(clip playback.Clip) {
	s.sendJSON(map[string]any{"type": protocol.TypeManualStartRequired, "clip_id": clip.ID})
}

func (s *session) sendError(message string) {
	s.sendJSON(map[string]any{"type": protocol.TypeError, "message": message})
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws write failed", zap.Error(err))
	}
}
