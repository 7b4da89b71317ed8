package config

import (
	"sync"

	"PCounter/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// CounterListener 收到新的 counter 段时回调
type CounterListener func(CounterConfig)

// Watcher 持有当前生效的 counter 配置，并把 nacos 下发的变更广播给 listener
type Watcher struct {
	mu        sync.RWMutex
	current   CounterConfig
	raw       string
	listeners []CounterListener
	client    config_client.IConfigClient
	param     vo.ConfigParam
}

func NewWatcher(base CounterConfig) *Watcher {
	return &Watcher{current: base}
}

func (w *Watcher) OnChange(l CounterListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

func (w *Watcher) Current() CounterConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Raw() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.raw
}

// apply 解析失败时保留旧配置
func (w *Watcher) apply(data string) {
	w.mu.RLock()
	base := w.current
	w.mu.RUnlock()

	next, err := ParseCounter(data, base)
	if err != nil {
		logger.Warn("nacos config ignored", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = next
	w.raw = data
	ls := append([]CounterListener(nil), w.listeners...)
	w.mu.Unlock()

	logger.Info("counter config applied",
		zap.Duration("context_ttl", next.ContextTTL),
		zap.Int("publish_retries", next.PublishRetries))
	for _, l := range ls {
		l(next)
	}
}

// StartNacosWatcher 首次拉取 + 监听 dataId/group 的变更
func (w *Watcher) StartNacosWatcher(nc NacosConfig) error {
	serverConfigs := []constant.ServerConfig{
		*constant.NewServerConfig(nc.Host, nc.Port),
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithTimeoutMs(5000),
		constant.WithNamespaceId(nc.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
	)

	configClient, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return err
	}

	// 第一次读取
	content, err := configClient.GetConfig(vo.ConfigParam{DataId: nc.DataID, Group: nc.Group})
	if err != nil {
		logger.Warn("nacos get config failed", zap.String("dataId", nc.DataID), zap.Error(err))
	} else if content != "" {
		w.apply(content)
	}

	// 开始监听
	param := vo.ConfigParam{
		DataId: nc.DataID,
		Group:  nc.Group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("nacos config changed", zap.String("dataId", dataId), zap.String("group", group))
			w.apply(data)
		},
	}
	if err := configClient.ListenConfig(param); err != nil {
		return err
	}

	w.mu.Lock()
	w.client = configClient
	w.param = param
	w.mu.Unlock()
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return
	}
	_ = w.client.CancelListenConfig(w.param)
	w.client.CloseClient()
	w.client = nil
}
