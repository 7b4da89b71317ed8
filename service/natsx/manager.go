package natsx

import (
	"context"
	"fmt"
	"time"
)

// NatsManager 对外门面：一个连接 + 消费端公共中间件
type NatsManager struct {
	client *NatsxClient
	mws    []NatsxMiddleware
}

func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{client: c, mws: middlewares}, nil
}

func (m *NatsManager) ready() error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return nil
}

func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) EnsureStream(name string, subjects []string, duplicates time.Duration) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.EnsureStream(name, subjects, duplicates)
}

// PublishOnce 通知发布，msgID 用作下游去重键
func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.PublishOnce(ctx, biz, data, hdr, msgID)
}

// PullConsume 事件消费，外层依次套上 NewNatsManager 时给的中间件
func (m *NatsManager) PullConsume(ctx context.Context, biz string, batch int, wait time.Duration, h NatsxHandler) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.client.PullConsume(ctx, biz, batch, wait, h, m.mws...)
}
