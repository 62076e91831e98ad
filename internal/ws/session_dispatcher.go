package ws

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/saker-ai/i2v-steer/internal/control"
	"github.com/saker-ai/i2v-steer/internal/protocol"
)

type incomingHandler func(context.Context, protocol.ClientCommand)

func (s *session) dispatchIncoming(ctx context.Context, msg protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.TypeKeyDown:          s.onKeyDown,
		protocol.TypeKeyUp:            s.onKeyUp,
		protocol.TypeUploadImage:      s.onUploadImage,
		protocol.TypeSelectModel:      s.onSelectModel,
		protocol.TypeSend:             s.onSend,
		protocol.TypeClear:            s.onClear,
		protocol.TypeTestConnection:   s.onTestConnection,
		protocol.TypePlaybackComplete: s.onPlaybackComplete,
		protocol.TypePlaybackBlocked:  s.onPlaybackBlocked,
		protocol.TypeResumePlayback:   s.onResumePlayback,
		protocol.TypeHeartbeat:        s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type", zap.String("type", msg.Type))
}

func (s *session) onKeyDown(ctx context.Context, msg protocol.ClientCommand) {
	// Keys outside WASD are ignored, as the page also forwards them.
	if key, ok := control.ParseKey(msg.Key); ok {
		s.controller.PressKey(ctx, key)
	}
}

func (s *session) onKeyUp(ctx context.Context, msg protocol.ClientCommand) {
	if key, ok := control.ParseKey(msg.Key); ok {
		s.controller.ReleaseKey(ctx, key)
	}
}

func (s *session) onUploadImage(_ context.Context, msg protocol.ClientCommand) {
	if err := s.controller.UploadImage(msg.Image); err != nil {
		s.sendError(err.Error())
	}
}

func (s *session) onSelectModel(_ context.Context, msg protocol.ClientCommand) {
	if err := s.controller.SelectPipeline(msg.Model); err != nil {
		s.sendError(err.Error())
		return
	}
	s.sendPipelines()
}

func (s *session) onSend(ctx context.Context, _ protocol.ClientCommand) {
	s.controller.Send(ctx)
}

func (s *session) onClear(ctx context.Context, _ protocol.ClientCommand) {
	s.controller.ClearLocal()
	s.goAsync(func() {
		if err := s.controller.ResetPipeline(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.sendError(err.Error())
		}
	})
}

func (s *session) onTestConnection(ctx context.Context, _ protocol.ClientCommand) {
	s.goAsync(func() {
		_, _ = s.controller.TestConnection(ctx)
	})
}

func (s *session) onPlaybackComplete(_ context.Context, msg protocol.ClientCommand) {
	if !s.controller.PlaybackComplete(msg.ClipID) {
		s.logger.Debug("stale playback completion", zap.Uint64("clip_id", msg.ClipID))
	}
}

func (s *session) onPlaybackBlocked(_ context.Context, msg protocol.ClientCommand) {
	s.controller.PlaybackBlocked(msg.ClipID)
}

func (s *session) onResumePlayback(_ context.Context, _ protocol.ClientCommand) {
	s.controller.ResumePlayback()
}

func (s *session) onNoop(_ context.Context, _ protocol.ClientCommand) {}
