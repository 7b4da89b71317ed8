package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Retries   int
	Timeout   time.Duration
}

// Dispatcher 异步投递：Publish 立即返回，后台按指数退避重试，最终失败只记日志
type Dispatcher struct {
	next    Publisher
	pool    pond.Pool
	log     *zap.Logger
	retries atomic.Int64
	timeout atomic.Int64

	// 测试里缩短退避间隔
	newBackOff func() backoff.BackOff
}

func NewDispatcher(next Publisher, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		next: next,
		pool: pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize)),
		log:  logger.Or(log).Named("dispatcher"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	d.SetRetries(cfg.Retries)
	d.timeout.Store(int64(cfg.Timeout))
	return d
}

// SetRetries 热更新重试次数
func (d *Dispatcher) SetRetries(n int) {
	if n < 0 {
		n = 0
	}
	d.retries.Store(int64(n))
}

func (d *Dispatcher) Publish(ctx context.Context, n *model.Notification) error {
	if d.pool.Stopped() {
		return errs.New("dispatcher closed", "key", n.DedupKey()).Wrap()
	}
	// 调用方的 ctx 可能随事件处理结束而取消
	base := context.WithoutCancel(ctx)
	_, ok := d.pool.TrySubmit(func() { d.deliver(base, n) })
	if !ok {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return errs.New("dispatcher queue full", "key", n.DedupKey()).Wrap()
	}
	return nil
}

// sinks Multi 拆开逐个重试，已成功的下游不会重复收到
func (d *Dispatcher) sinks() []Publisher {
	if m, ok := d.next.(Multi); ok {
		return m
	}
	return []Publisher{d.next}
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) {
	sinks := d.sinks()
	failed := 0
	for i, p := range sinks {
		if err := d.deliverTo(ctx, p, n); err != nil {
			failed++
			d.log.Error("publish notification gave up",
				zap.String("key", n.DedupKey()), zap.Int("sink", i), zap.Error(err))
		}
	}
	if failed > 0 {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return
	}
	metrics.Notifications.WithLabelValues("published").Inc()
}

func (d *Dispatcher) deliverTo(ctx context.Context, p Publisher, n *model.Notification) error {
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, time.Duration(d.timeout.Load()))
		defer cancel()
		return p.Publish(actx, n)
	}
	b := backoff.WithMaxRetries(d.newBackOff(), uint64(d.retries.Load()))
	notify := func(err error, wait time.Duration) {
		d.log.Warn("publish notification failed, retrying",
			zap.String("key", n.DedupKey()), zap.Int("attempt", attempt), zap.Duration("next_retry_in", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// Close 停止接收并等待队列中的通知投递完
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}
