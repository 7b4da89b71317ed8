package kafka

import (
	"context"
	"errors"

	"PCounter/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct {
	router *Router
	log    *zap.Logger
}

func NewConsumerGroupHandler(router *Router, log *zap.Logger) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{router: router, log: logger.Or(log)}
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.dispatch(session.Context(), msg)
		// handler 错误只记日志，offset 照常提交，漂移交给 repair
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *ConsumerGroupHandler) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) {
	handler, err := h.router.GetHandler(msg.Topic)
	if err != nil {
		h.log.Warn("no handler", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := handler(ctx, msg.Topic, msg.Key, msg.Value); err != nil {
		h.log.Error("handler error",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

// StartConsumerGroup 阻塞消费直到 ctx 结束
func StartConsumerGroup(ctx context.Context, client sarama.Client, groupID string, topics []string, handler *ConsumerGroupHandler) error {
	group, err := sarama.NewConsumerGroupFromClient(groupID, client)
	if err != nil {
		return err
	}
	defer func() { _ = group.Close() }()

	go func() {
		for err := range group.Errors() {
			handler.log.Warn("consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			handler.log.Warn("consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
