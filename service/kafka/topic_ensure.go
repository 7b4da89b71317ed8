package kafka

import (
	"errors"
	"fmt"

	"PCounter/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopicsWith  会：
// 1) 不存在就按 appCfg 创建；
// 2) 已存在且分区数 < 期望值时，执行 CreatePartitions 扩分区（Kafka 仅支持增加分区，不能减少）。
func EnsureTopicsWith(admin sarama.ClusterAdmin, topics []string, appCfg *AppConfig) error {
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			if err := admin.CreateTopic(t, topicDetail(appCfg), false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Info("topic exists (race)", zap.String("topic", t))
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Info("topic created", zap.String("topic", t),
				zap.Int32("partitions", appCfg.PartitionsPerTopic), zap.Int16("rf", appCfg.ReplicationFactor))
			continue
		}

		// 已存在：必要时扩分区
		curParts := int32(len(descs[0].Partitions))
		if appCfg.PartitionsPerTopic > curParts {
			if err := admin.CreatePartitions(t, appCfg.PartitionsPerTopic, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, curParts, appCfg.PartitionsPerTopic, err)
			}
			logger.Info("topic partitions expanded", zap.String("topic", t),
				zap.Int32("from", curParts), zap.Int32("to", appCfg.PartitionsPerTopic))
		}
	}
	return nil
}

func topicDetail(appCfg *AppConfig) *sarama.TopicDetail {
	minISR := "1"
	if appCfg.ReplicationFactor >= 3 {
		minISR = "2" // rf>=3 则至少 2
	}
	return &sarama.TopicDetail{
		NumPartitions:     appCfg.PartitionsPerTopic,
		ReplicationFactor: appCfg.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 strPtr("delete"),
			"min.insync.replicas":            strPtr(minISR),
			"unclean.leader.election.enable": strPtr("false"),
			"compression.type":               strPtr("producer"),
		},
	}
}

// EnsureTopics 用 client 建 admin 后确保 topics 存在
func EnsureTopics(client sarama.Client, topics []string, appCfg *AppConfig) error {
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	// admin 与 client 共享连接，这里不 Close
	return EnsureTopicsWith(admin, topics, appCfg)
}

func strPtr(s string) *string { return &s }
