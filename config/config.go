package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mongoutil "PCounter/data/database/mgo/mongoutil"
	"PCounter/logger"
	"PCounter/service/kafka"
	"PCounter/service/natsx"
	"PCounter/service/storage/redis"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PCOUNTER"

// Config 计数 worker 的全部配置
type Config struct {
	NodeID  int64            `mapstructure:"node_id"`
	Log     logger.Config    `mapstructure:"log"`
	Mongo   mongoutil.Config `mapstructure:"mongo"`
	Redis   redis.Config     `mapstructure:"redis"`
	Nats    NatsConfig       `mapstructure:"nats"`
	Kafka   KafkaConfig      `mapstructure:"kafka"`
	History HistoryConfig    `mapstructure:"history"`
	Counter CounterConfig    `mapstructure:"counter"`
	Repair  RepairConfig     `mapstructure:"repair"`
	HTTP    HTTPConfig       `mapstructure:"http"`
	Nacos   NacosConfig      `mapstructure:"nacos"`
}

// NatsConfig 连接参数 + 事件/通知两条 JetStream 链路
type NatsConfig struct {
	natsx.NatsxConfig `mapstructure:",squash"`
	EventStream       string        `mapstructure:"event_stream"`
	EventSubject      string        `mapstructure:"event_subject"`
	EventDurable      string        `mapstructure:"event_durable"`
	NotifyStream      string        `mapstructure:"notify_stream"`
	NotifySubject     string        `mapstructure:"notify_subject"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
}

// KafkaConfig TopicPattern/TopicCount 描述事件 topic，Notify* 描述通知 topic
type KafkaConfig struct {
	kafka.AppConfig    `mapstructure:",squash"`
	NotifyTopicPattern string `mapstructure:"notify_topic_pattern"`
	NotifyTopicCount   int    `mapstructure:"notify_topic_count"`
}

// NotifyAppConfig 通知 topic 的 AppConfig 视图
func (k KafkaConfig) NotifyAppConfig() kafka.AppConfig {
	c := k.AppConfig
	c.TopicPattern = k.NotifyTopicPattern
	c.TopicCount = k.NotifyTopicCount
	return c
}

// HistoryConfig Backend 取 mongo | postgres
type HistoryConfig struct {
	Backend     string `mapstructure:"backend"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// CounterConfig 引擎参数；context_ttl / publish_retries 支持 nacos 热更新
type CounterConfig struct {
	ContextTTL     time.Duration `mapstructure:"context_ttl"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	ContextStore   string        `mapstructure:"context_store"` // redis | memory
	PublishWorkers int           `mapstructure:"publish_workers"`
	PublishRetries int           `mapstructure:"publish_retries"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	Publishers     []string      `mapstructure:"publishers"` // nats | kafka | redis | log
	RedisChannel   string        `mapstructure:"redis_channel"`
	EventSource    string        `mapstructure:"event_source"` // kafka | nats
	StorageTimeout time.Duration `mapstructure:"storage_timeout"`
}

type RepairConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Schedule string   `mapstructure:"schedule"`
	Tenants  []string `mapstructure:"tenants"`
	Workers  int      `mapstructure:"workers"`
}

// HTTPConfig OpsSecret 为空时 /debug 不鉴权
type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	OpsSecret string `mapstructure:"ops_secret"`
	OpsAlg    string `mapstructure:"ops_alg"`
}

type NacosConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      uint64 `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	DataID    string `mapstructure:"data_id"`
	Group     string `mapstructure:"group"`
}

// Load 读取 config.yaml（可选）+ .env + PCOUNTER_* 环境变量
func Load(configFile, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// 没有配置文件时只用环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func configureViper(configFile, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults 同时让 AutomaticEnv 能映射到没有出现在文件中的 key
func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.address", []string{"127.0.0.1:27017"})
	v.SetDefault("mongo.database", "pcounter")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.auth_source", "")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.max_retry", 3)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 32)

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "pcounter")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.reconnect_wait", "500ms")
	v.SetDefault("nats.timeout", "3s")
	v.SetDefault("nats.event_stream", "COUNTER_EVENTS")
	v.SetDefault("nats.event_subject", "counter.events")
	v.SetDefault("nats.event_durable", "pcounter-worker")
	v.SetDefault("nats.notify_stream", "COUNTER_NOTIFY")
	v.SetDefault("nats.notify_subject", "counter.notify")
	v.SetDefault("nats.dedup_window", "2m")

	kd := kafka.DefaultConfig()
	v.SetDefault("kafka.brokers", kd.Brokers)
	v.SetDefault("kafka.group_id", kd.GroupID)
	v.SetDefault("kafka.topic_pattern", kd.TopicPattern)
	v.SetDefault("kafka.topic_count", kd.TopicCount)
	v.SetDefault("kafka.partitions_per_topic", kd.PartitionsPerTopic)
	v.SetDefault("kafka.replication_factor", kd.ReplicationFactor)
	v.SetDefault("kafka.producer_retries", kd.ProducerRetries)
	v.SetDefault("kafka.producer_compression", kd.ProducerCompression)
	v.SetDefault("kafka.consumer_initial_offset", kd.ConsumerInitialOffset)
	v.SetDefault("kafka.version", kd.Version)
	v.SetDefault("kafka.auto_create_topics", kd.AutoCreateTopicsOnStart)
	v.SetDefault("kafka.notify_topic_pattern", "counter.notify-%02d")
	v.SetDefault("kafka.notify_topic_count", 8)

	v.SetDefault("history.backend", "mongo")
	v.SetDefault("history.postgres_url", "")

	v.SetDefault("counter.context_ttl", "5m")
	v.SetDefault("counter.reap_interval", "30s")
	v.SetDefault("counter.context_store", "redis")
	v.SetDefault("counter.publish_workers", 16)
	v.SetDefault("counter.publish_retries", 3)
	v.SetDefault("counter.publish_timeout", "5s")
	v.SetDefault("counter.publishers", []string{"nats"})
	v.SetDefault("counter.redis_channel", "counter:notify")
	v.SetDefault("counter.event_source", "kafka")
	v.SetDefault("counter.storage_timeout", "10s")

	v.SetDefault("repair.enabled", false)
	v.SetDefault("repair.schedule", "0 */30 * * * *")
	v.SetDefault("repair.tenants", []string{})
	v.SetDefault("repair.workers", 4)

	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.ops_secret", "")
	v.SetDefault("http.ops_alg", "HS256")

	v.SetDefault("nacos.enabled", false)
	v.SetDefault("nacos.host", "127.0.0.1")
	v.SetDefault("nacos.port", 8848)
	v.SetDefault("nacos.namespace", "")
	v.SetDefault("nacos.data_id", "pcounter.yaml")
	v.SetDefault("nacos.group", "DEFAULT_GROUP")
}

func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "config/"
	}
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}

// ParseCounter 解析一份 yaml 文档中的 counter 段（nacos 下发的内容）
func ParseCounter(content string, base CounterConfig) (CounterConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return base, fmt.Errorf("parse config: %w", err)
	}
	out := base
	if err := v.UnmarshalKey("counter", &out); err != nil {
		return base, fmt.Errorf("unmarshal counter: %w", err)
	}
	return out, nil
}
