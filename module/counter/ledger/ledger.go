package ledger

import (
	"context"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"
	"PCounter/tools/ids"

	"go.uber.org/zap"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Service 计数账本：写入尽力而为，失败只记日志和指标，不影响计数本身
type Service struct {
	db  store.HistoryDB
	log *zap.Logger
	now func() time.Time
}

func New(db store.HistoryDB, log *zap.Logger) *Service {
	return &Service{db: db, log: logger.Or(log).Named("ledger"), now: time.Now}
}

// RecordHistory 补齐 id / timestamp 后追加
func (s *Service) RecordHistory(ctx context.Context, e *model.HistoryEntry) {
	if e.ID == 0 {
		e.ID = ids.Generate()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.db.Insert(ctx, e); err != nil {
		metrics.HistoryFailures.Inc()
		s.log.Error("record counter history failed",
			zap.String("tenant", e.TenantID),
			zap.String("type", string(e.CounterType)),
			zap.String("entity", e.EntityID),
			zap.Int64("old", e.OldValue),
			zap.Int64("new", e.NewValue),
			zap.String("event", e.SourceEventID),
			zap.Error(err))
	}
}

// Record 由一次变更结果生成账本记录
func (s *Service) Record(ctx context.Context, t model.Target, r model.Result, op model.Operation, src model.Source) {
	s.RecordHistory(ctx, model.NewHistoryEntry(t, r, op, src, s.now()))
}

// GetCounterHistory 时间倒序；limit <= 0 取默认值，上限 MaxLimit
func (s *Service) GetCounterHistory(ctx context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error) {
	if tenantID == "" {
		return nil, errs.ErrArgs.WrapMsg("tenant required")
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	out, err := s.db.Find(ctx, tenantID, f, limit)
	if err != nil {
		return nil, errs.WrapMsg(err, "get counter history", "tenant", tenantID)
	}
	return out, nil
}
