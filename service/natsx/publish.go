package natsx

import (
	"context"
	"fmt"
	"maps"

	"PCounter/logger"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const HeaderMsgID = "Nats-Msg-Id"

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return msg
}

// Publish 按 Biz 路由发到 JetStream，等待 stream ack
func (c *NatsxClient) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, err := c.route(biz)
	if err != nil {
		return err
	}
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	ack, err := js.PublishMsg(newMsg(r.Subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", r.Subject, err)
	}
	if ack.Duplicate {
		logger.Debug("nats duplicate suppressed", zap.String("stream", ack.Stream), zap.String("subject", r.Subject))
	}
	return nil
}

// PublishOnce 带 Nats-Msg-Id 发布，stream 在 Duplicates 窗口内按 msgID 去重；msgID 为空时生成 ulid
func (c *NatsxClient) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	out := make(map[string]string, len(hdr)+1)
	maps.Copy(out, hdr)
	if msgID == "" {
		msgID = ulid.Make().String()
	}
	out[HeaderMsgID] = msgID
	return c.Publish(ctx, biz, data, out)
}
