package kafka

import "github.com/Shopify/sarama"

// AppConfig kafka 接入配置，由 config 包从 yaml/env 填充
type AppConfig struct {
	Brokers                 []string `mapstructure:"brokers"`
	GroupID                 string   `mapstructure:"group_id"`
	TopicPattern            string   `mapstructure:"topic_pattern"` // 例如 "counter.notify-%02d"
	TopicCount              int      `mapstructure:"topic_count"`
	PartitionsPerTopic      int32    `mapstructure:"partitions_per_topic"`
	ReplicationFactor       int16    `mapstructure:"replication_factor"`
	ProducerRetries         int      `mapstructure:"producer_retries"`
	ProducerCompression     string   `mapstructure:"producer_compression"` // none/snappy/lz4/zstd
	ConsumerInitialOffset   string   `mapstructure:"consumer_initial_offset"`
	Version                 string   `mapstructure:"version"`
	AutoCreateTopicsOnStart bool     `mapstructure:"auto_create_topics"`
}

// DefaultConfig 单机演示用默认值
func DefaultConfig() AppConfig {
	return AppConfig{
		Brokers:                 []string{"127.0.0.1:9092"},
		GroupID:                 "pcounter-worker",
		TopicPattern:            "counter.events-%02d",
		TopicCount:              8,
		PartitionsPerTopic:      8,
		ReplicationFactor:       1,
		ProducerRetries:         5,
		ProducerCompression:     "snappy",
		ConsumerInitialOffset:   "newest",
		Version:                 "2.1.0",
		AutoCreateTopicsOnStart: true,
	}
}

func (c *AppConfig) kafkaVersion() sarama.KafkaVersion {
	v, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return sarama.V2_1_0_0
	}
	return v
}
