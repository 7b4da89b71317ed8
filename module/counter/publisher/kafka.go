package publisher

import (
	"context"
	"encoding/json"

	"PCounter/module/counter/model"
	"PCounter/service/kafka"
	"PCounter/tools/errs"

	"github.com/Shopify/sarama"
)

// KafkaPublisher 同一用户的通知落在同一个 topic / partition，保证顺序
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topics   []string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topics []string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

func (p *KafkaPublisher) Publish(_ context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	topic := kafka.SelectTopicByUser(n.UserID, p.topics)
	err = kafka.SendSync(p.producer, topic, n.UserID, data, map[string]string{
		"tenant-id":  n.TenantID,
		"event-type": n.EventType,
		"dedup-key":  n.DedupKey(),
	})
	return errs.WrapMsg(err, "kafka publish notification", "topic", topic, "key", n.DedupKey())
}
