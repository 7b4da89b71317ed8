package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsxMode 计数 worker 只走 JetStream：通知用 Push 路由发布，事件用 Pull 拉取
type NatsxMode int

const (
	JetStreamPush NatsxMode = iota + 1
	JetStreamPull
)

// NatsxRoute 路由配置（按 Biz 维度注册）
type NatsxRoute struct {
	Biz           string
	Subject       string
	Mode          NatsxMode
	Durable       string        // Pull 模式必填
	AckWait       time.Duration // 默认 30s
	MaxAckPending int           // 默认 1024
	MaxDeliver    int           // 0 不限
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string      `mapstructure:"servers"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PublishAsyncMax int           `mapstructure:"publish_async_max"`
}

type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn

	mu     sync.RWMutex
	js     nats.JetStreamContext
	routes map[string]NatsxRoute
}

func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsxClient{cfg: cfg, nc: nc, routes: make(map[string]NatsxRoute)}, nil
}

// Close drain 连接，等待在途消息处理完
func (c *NatsxClient) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func (c *NatsxClient) jetStream() (nats.JetStreamContext, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js != nil {
		return js, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js == nil {
		js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
		if err != nil {
			return nil, fmt.Errorf("init jetstream: %w", err)
		}
		c.js = js
	}
	return c.js, nil
}

// EnsureStream 不存在则创建，存在则更新 subjects；duplicates 决定 Nats-Msg-Id 的去重窗口
func (c *NatsxClient) EnsureStream(name string, subjects []string, duplicates time.Duration) error {
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	cfg := &nats.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    nats.FileStorage,
		Duplicates: duplicates,
	}
	_, err = js.StreamInfo(name)
	switch {
	case err == nil:
		_, err = js.UpdateStream(cfg)
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = js.AddStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	switch r.Mode {
	case JetStreamPush:
	case JetStreamPull:
		if r.Durable == "" {
			return fmt.Errorf("biz=%s: JetStreamPull requires Durable", r.Biz)
		}
	default:
		return fmt.Errorf("biz=%s: unsupported mode %d", r.Biz, r.Mode)
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *NatsxClient) route(biz string) (NatsxRoute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	if !ok {
		return NatsxRoute{}, fmt.Errorf("route not found: %s", biz)
	}
	return r, nil
}
