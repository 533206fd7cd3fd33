package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

// EventPublisher forwards committed changes to the event feed.
type EventPublisher interface {
	PublishChatEvent(ctx context.Context, event model.ChatEvent) error
}

// emitter publishes best-effort: a failed publish is logged and counted,
// never returned to the caller.
type emitter struct {
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func (e emitter) emit(ctx context.Context, event model.ChatEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishChatEvent(ctx, event); err != nil {
		e.metrics.EventPublishFailed()
		e.logger.WarnContext(ctx, "publish chat event failed",
			zap.String("type", string(event.Type)),
			zap.Int64("chat_id", event.ChatID),
			zap.Error(err))
	}
}
