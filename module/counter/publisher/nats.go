package publisher

import (
	"context"
	"encoding/json"

	"PCounter/module/counter/model"
	"PCounter/tools/errs"
)

// OnceSender natsx.NatsManager 的子集
type OnceSender interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsPublisher JetStream 发布，Nats-Msg-Id = tenant:user:event，重复 finalize/重试在 stream 去重窗口内被丢弃
type NatsPublisher struct {
	sender OnceSender
	biz    string
}

func NewNatsPublisher(sender OnceSender, biz string) *NatsPublisher {
	return &NatsPublisher{sender: sender, biz: biz}
}

func (p *NatsPublisher) Publish(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	hdr := map[string]string{
		"tenant-id":  n.TenantID,
		"event-type": n.EventType,
	}
	return errs.WrapMsg(p.sender.PublishOnce(ctx, p.biz, data, hdr, n.DedupKey()),
		"nats publish notification", "key", n.DedupKey())
}
