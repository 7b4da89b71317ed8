package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemDB()
	svc := New(db, zaptest.NewLogger(t))
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	tg := model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u1"}
	src := model.Source{EventType: model.EventMessageCreate, EventID: "evt1", ActorID: "u2", ActorType: model.ActorUser}
	svc.Record(ctx, tg, model.Result{OldValue: 0, NewValue: 1}, model.OpIncrement, src)
	svc.Record(ctx, tg, model.Result{OldValue: 1, NewValue: 0}, model.OpDecrement, src)

	got, err := svc.GetCounterHistory(ctx, "t1", model.HistoryFilter{EntityID: "d1:u1"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.OpDecrement, got[0].Operation)
	assert.Equal(t, int64(-1), got[0].Delta)
	assert.NotZero(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.True(t, got[0].Timestamp.After(got[1].Timestamp))

	_, err = svc.GetCounterHistory(ctx, "", model.HistoryFilter{}, 10)
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestRecordHistoryFailureIsSwallowed(t *testing.T) {
	db := store.NewMemDB()
	db.FailHistory = errors.New("disk full")
	svc := New(db, zaptest.NewLogger(t))

	before := testutil.ToFloat64(metrics.HistoryFailures)
	svc.RecordHistory(context.Background(), &model.HistoryEntry{TenantID: "t1", CounterType: model.UserStatsDialogCount, EntityID: "u1"})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HistoryFailures))
}

type limitSpy struct {
	store.HistoryDB
	limit int
}

func (l *limitSpy) Find(_ context.Context, _ string, _ model.HistoryFilter, limit int) ([]*model.HistoryEntry, error) {
	l.limit = limit
	return nil, nil
}

func TestHistoryLimitBounds(t *testing.T) {
	spy := &limitSpy{}
	svc := New(spy, zaptest.NewLogger(t))
	_, _ = svc.GetCounterHistory(context.Background(), "t1", model.HistoryFilter{}, -3)
	assert.Equal(t, DefaultLimit, spy.limit)
	_, _ = svc.GetCounterHistory(context.Background(), "t1", model.HistoryFilter{}, 5000)
	assert.Equal(t, MaxLimit, spy.limit)
}
