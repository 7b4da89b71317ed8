package mgo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mgo "PCounter/data/database/mgo/mongoutil"
	"PCounter/logger"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = MongoManager{readyCh: make(chan struct{})}

const (
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// StartAsync: 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func StartAsync(ctx context.Context, cfg *mgo.Config) {
	go func() {
		for {
			if !globalMgr.connect(ctx, cfg) {
				return
			}
			// 健康循环结束后回到外层 for 进行重连
			if !globalMgr.watch(ctx) {
				return
			}
		}
	}()
}

// connect 退避重连直到成功；ctx 结束返回 false
func (m *MongoManager) connect(ctx context.Context, cfg *mgo.Config) bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // 不限总时长

	err := backoff.RetryNotify(func() error {
		cli, err := mgo.NewMongoDB(ctx, cfg)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.readyOnce.Do(func() { close(m.readyCh) })
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		m.lastErr.Store(err)
		logger.Warn("mongo connect failed", zap.Error(err), zap.Duration("retry_in", next))
	})
	return err == nil
}

// watch 定期 ping；连续失败达到阈值时断开返回 true 触发重连
func (m *MongoManager) watch(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				logger.Warn("mongo ping failed", zap.Int("fail", fail), zap.Error(err))
				if fail >= failThresh {
					m.drop()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready: 首次连接成功时会 close；可 select 等待
func Ready() <-chan struct{} {
	return globalMgr.readyCh
}

func Manager() *MongoManager {
	return &globalMgr
}

// Err: 最近一次错误
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func GetDB() *mongo.Database {
	db, ok := TryGetDB()
	if !ok {
		panic("Mongo not ready: wait Ready() or use TryGetDB()")
	}
	return db
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil, false
	}
	return globalMgr.client.GetDB(), true
}

// WaitReady 阻塞到首次连接成功或 ctx 结束
func WaitReady(ctx context.Context, m *MongoManager) error {
	m.mu.RLock()
	readyCh := m.readyCh
	clientNil := m.client == nil
	m.mu.RUnlock()

	if !clientNil {
		return nil
	}
	if readyCh == nil {
		return fmt.Errorf("mongo manager not started")
	}

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
