package natsx

import (
	"context"
	"errors"
	"time"

	"PCounter/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// 处理失败后的重投延迟
const nakDelay = 2 * time.Second

func toMessage(m *nats.Msg) NatsxMessage {
	return NatsxMessage{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}

// PullConsume 按 durable 批量拉取，handler 返回 nil 时 Ack，否则延迟 Nak；阻塞到 ctx 结束
func (c *NatsxClient) PullConsume(ctx context.Context, biz string, batch int, wait time.Duration, h NatsxHandler, mws ...NatsxMiddleware) error {
	r, err := c.route(biz)
	if err != nil {
		return err
	}
	if r.Mode != JetStreamPull {
		return errors.New("biz=" + biz + " not JetStreamPull")
	}
	js, err := c.jetStream()
	if err != nil {
		return err
	}

	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(r.AckWait),
		nats.MaxAckPending(r.MaxAckPending),
		nats.PullMaxWaiting(8),
	}
	if r.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(r.MaxDeliver))
	}
	sub, err := js.PullSubscribe(r.Subject, r.Durable, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	h = NatsxChain(h, mws...)
	if batch <= 0 {
		batch = 64
	}
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}

	log := logger.Named("natsx").With(zap.String("biz", biz), zap.String("durable", r.Durable))
	for ctx.Err() == nil {
		fctx, cancel := context.WithTimeout(ctx, wait)
		msgs, err := sub.Fetch(batch, nats.Context(fctx))
		cancel()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			log.Warn("nats fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, m := range msgs {
			ackByResult(log, m, h(ctx, toMessage(m)))
		}
	}
	return nil
}

func ackByResult(log *zap.Logger, m *nats.Msg, err error) {
	if err == nil {
		_ = m.Ack()
		return
	}
	log.Warn("nats handler failed, nak", zap.String("subject", m.Subject), zap.Error(err))
	_ = m.NakWithDelay(nakDelay)
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
