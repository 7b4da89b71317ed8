package publisher

import (
	"context"
	"errors"

	"PCounter/logger"
	"PCounter/module/counter/model"

	"go.uber.org/zap"
)

//go:generate mockgen -destination=../mocks/publisher_mock.go -package=mocks PCounter/module/counter/publisher Publisher

// Publisher 把合并后的通知投递到下游
type Publisher interface {
	Publish(ctx context.Context, n *model.Notification) error
}

// Multi 依次投递到所有 publisher，错误合并返回
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n *model.Notification) error {
	var errList []error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// LogPublisher 只写日志，本地调试用
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger.Or(log).Named("notify")}
}

func (p *LogPublisher) Publish(_ context.Context, n *model.Notification) error {
	p.log.Info("user stats update",
		zap.String("tenant", n.TenantID),
		zap.String("user", n.UserID),
		zap.String("event", n.SourceEventID),
		zap.Any("changed", n.ChangedFields))
	return nil
}
