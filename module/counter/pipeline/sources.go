package pipeline

import (
	"context"

	"PCounter/service/kafka"
	"PCounter/service/natsx"

	"go.uber.org/zap"
)

// KafkaHandler 注册到 kafka.Router；返回的错误由消费者记录，offset 照常提交
func (p *Pipeline) KafkaHandler() kafka.MessageHandler {
	return func(ctx context.Context, topic string, _, value []byte) error {
		ev, err := DecodeEvent(value)
		if err != nil {
			return err
		}
		return p.Handle(ctx, ev)
	}
}

// NatsHandler JetStream pull 消费。计数变更不可重放，处理出错也 ack，不让 nats 重投。
func (p *Pipeline) NatsHandler() natsx.NatsxHandler {
	return func(ctx context.Context, msg natsx.NatsxMessage) error {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			p.log.Error("drop undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		if id := msg.Header[natsx.HeaderMsgID]; id != "" && ev.EventID == "" {
			ev.EventID = id
		}
		if err := p.Handle(ctx, ev); err != nil {
			p.log.Error("handle event failed", zap.String("subject", msg.Subject), zap.String("event", ev.EventID), zap.Error(err))
		}
		return nil
	}
}
