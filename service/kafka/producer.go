package kafka

import (
	"strings"
	"time"

	"PCounter/tools/errs"

	"github.com/Shopify/sarama"
)

func BuildBaseConfig(app *AppConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = app.kafkaVersion()
	cfg.ClientID = "pcounter"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := app.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(app.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(app.ConsumerInitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewClient 按 AppConfig 建 client，producer / consumer group 共用
func NewClient(app *AppConfig) (sarama.Client, error) {
	c, err := sarama.NewClient(app.Brokers, BuildBaseConfig(app))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", app.Brokers)
	}
	return c, nil
}

// NewSyncProducer 同步生产者
func NewSyncProducer(client sarama.Client) (sarama.SyncProducer, error) {
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return p, nil
}

// SendSync 以 key 决定分区发送一条消息
func SendSync(p sarama.SyncProducer, topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	_, _, err := p.SendMessage(msg)
	return err
}
