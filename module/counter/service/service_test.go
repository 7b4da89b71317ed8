package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PCounter/module/counter/ledger"
	"PCounter/module/counter/mocks"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/module/counter/updatectx"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	db    *store.MemDB
	svc   *CounterService
	led   *ledger.Service
	coord *updatectx.Coordinator
	pub   *mocks.MockPublisher
}

func newEnv(t *testing.T) *env {
	ctrl := gomock.NewController(t)
	log := zaptest.NewLogger(t)
	db := store.NewMemDB()
	pub := mocks.NewMockPublisher(ctrl)
	coord := updatectx.NewCoordinator(updatectx.NewMemoryStore(time.Minute, log), db, pub, log)
	led := ledger.New(db, log)
	return &env{db: db, svc: New(db, db, led, coord, log), led: led, coord: coord, pub: pub}
}

func (e *env) userStats(t *testing.T, user string) *model.UserStats {
	us, err := e.db.GetUserStats(context.Background(), "t1", user)
	require.NoError(t, err)
	return us
}

func src(eventType, eventID, actor string) model.Source {
	return model.Source{EventType: eventType, EventID: eventID, ActorID: actor, ActorType: model.ActorUser}
}

// +1 与 -1 在同一事件内抵消：最终为 0，仍只发一条通知
func TestUnreadScenarioSingleEvent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 1, src(model.EventMessageCreate, "evt1", "sender"))
	require.NoError(t, err)
	res, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", -1, src(model.EventMessageStatusUpdate, "evt1", "u1"))
	require.NoError(t, err)
	assert.Equal(t, model.Result{OldValue: 1, NewValue: 0}, res)

	var sent []*model.Notification
	e.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n *model.Notification) error {
		sent = append(sent, n)
		return nil
	}).Times(1)

	out := e.coord.FinalizeUsers(ctx, "t1", []string{"u1"}, "evt1")
	require.Len(t, out, 1)
	require.Len(t, sent, 1)
	assert.Equal(t, "evt1", sent[0].SourceEventID)
	assert.Equal(t, int64(0), sent[0].ChangedFields["dialogs.d1.unreadCount"])
	assert.Equal(t, int64(0), sent[0].ChangedFields["userStats.totalUnreadCount"])
	assert.Equal(t, int64(0), sent[0].ChangedFields["userStats.unreadDialogsCount"])

	us := e.userStats(t, "u1")
	assert.Zero(t, us.TotalUnreadCount)
	assert.Zero(t, us.UnreadDialogsCount)
	v, _, _ := e.db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u1"})
	assert.Zero(t, v)

	// 同一事件再次 finalize 不再发通知
	assert.Empty(t, e.coord.FinalizeUsers(ctx, "t1", []string{"u1"}, "evt1"))
}

func TestUnreadCascade(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := src(model.EventMessageCreate, "", "x")

	for i := 0; i < 3; i++ {
		_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 1, s)
		require.NoError(t, err)
	}
	_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d2", 2, s)
	require.NoError(t, err)

	us := e.userStats(t, "u1")
	assert.Equal(t, int64(2), us.UnreadDialogsCount)
	assert.Equal(t, int64(5), us.TotalUnreadCount)

	// 超额扣减：实际只减 3，d1 归零
	res, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", -10, s)
	require.NoError(t, err)
	assert.Equal(t, model.Result{OldValue: 3, NewValue: 0}, res)

	us = e.userStats(t, "u1")
	assert.Equal(t, int64(1), us.UnreadDialogsCount)
	assert.Equal(t, int64(2), us.TotalUnreadCount)

	hist, err := e.led.GetCounterHistory(ctx, "t1", model.HistoryFilter{CounterType: model.UserDialogUnread, EntityID: "d1:u1"}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, int64(-3), hist[0].Delta)
	assert.Equal(t, model.OpDecrement, hist[0].Operation)

	// 已是 0 再减：账本记录 delta 0，不级联
	_, err = e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", -1, s)
	require.NoError(t, err)
	total, err := e.led.GetCounterHistory(ctx, "t1", model.HistoryFilter{CounterType: model.UserStatsTotalUnreadCount}, 0)
	require.NoError(t, err)
	assert.Len(t, total, 5)
}

// 账本回放：每个计数的 old/new 首尾相接，且与当前值一致
func TestLedgerMatchesRunningValue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := src(model.EventMessageCreate, "", "x")
	for _, d := range []int64{2, -1, -5, 3, 1, -2} {
		_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", d, s)
		require.NoError(t, err)
	}
	hist, err := e.led.GetCounterHistory(ctx, "t1", model.HistoryFilter{CounterType: model.UserStatsTotalUnreadCount, EntityID: "u1"}, 0)
	require.NoError(t, err)

	var running int64
	for i := len(hist) - 1; i >= 0; i-- {
		h := hist[i]
		assert.Equal(t, running, h.OldValue)
		assert.Equal(t, h.OldValue+h.Delta, h.NewValue)
		assert.GreaterOrEqual(t, h.NewValue, int64(0))
		running = h.NewValue
	}
	assert.Equal(t, running, e.userStats(t, "u1").TotalUnreadCount)
	assert.Equal(t, int64(2), running)
}

func TestOneNotificationForManyFields(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := src(model.EventMessageCreate, "evt9", "u1")

	_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d2", 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateUserStatsTotalMessagesCount(ctx, "t1", "u1", 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateUserStatsDialogCount(ctx, "t1", "u1", 1, s)
	require.NoError(t, err)
	// 非 per-user 计数不进入通知
	_, err = e.svc.UpdateReactionCount(ctx, "t1", "m1", "like", 1, s)
	require.NoError(t, err)

	e.pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n *model.Notification) error {
		assert.Equal(t, map[string]int64{
			"dialogs.d1.unreadCount":       1,
			"dialogs.d2.unreadCount":       1,
			"userStats.totalUnreadCount":   2,
			"userStats.unreadDialogsCount": 2,
			"userStats.totalMessagesCount": 1,
			"userStats.dialogCount":        1,
		}, n.ChangedFields)
		return nil
	}).Times(1)
	assert.Len(t, e.coord.FinalizeUsers(ctx, "t1", []string{"u1"}, "evt9"), 1)
}

func TestTallyDeletedButHistoryKept(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := src(model.EventReactionAdd, "", "u1")

	_, err := e.svc.UpdateReactionCount(ctx, "t1", "m1", "like", 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateReactionCount(ctx, "t1", "m1", "like", 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateReactionCount(ctx, "t1", "m1", "like", -2, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateStatusCount(ctx, "t1", "m1", model.StatusSent, 1, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateStatusCount(ctx, "t1", "m1", model.StatusSent, -1, s)
	require.NoError(t, err)

	for _, ct := range []model.CounterType{model.ReactionCounter("like"), model.StatusCounter(model.StatusSent)} {
		_, found, err := e.db.Get(ctx, model.Target{TenantID: "t1", Type: ct, EntityID: "m1"})
		require.NoError(t, err)
		assert.False(t, found, ct)
	}

	hist, err := e.led.GetCounterHistory(ctx, "t1", model.HistoryFilter{CounterType: model.ReactionCounter("like"), EntityID: "m1"}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, int64(0), hist[0].NewValue)
	assert.Equal(t, int64(-2), hist[0].Delta)
}

func TestRemoveMembershipDrainsUnread(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s := src(model.EventMessageCreate, "", "x")
	e.db.AddMember("t1", "d1", "u1")
	e.db.AddMember("t1", "d2", "u1")

	_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 4, s)
	require.NoError(t, err)
	_, err = e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d2", 1, s)
	require.NoError(t, err)
	before := e.userStats(t, "u1").TotalUnreadCount

	require.NoError(t, e.svc.RemoveMembership(ctx, "t1", "d1", "u1", src(model.EventMemberRemove, "", "admin")))

	us := e.userStats(t, "u1")
	assert.Equal(t, before-4, us.TotalUnreadCount)
	assert.Equal(t, int64(1), us.UnreadDialogsCount)
	_, found, err := e.db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u1"})
	require.NoError(t, err)
	assert.False(t, found)
	members, err := e.db.MembersOfDialog(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

// userStats 写入失败：主计数成功返回，级联只记日志
type brokenUserStats struct {
	store.CounterDB
}

func (b *brokenUserStats) Incr(ctx context.Context, t model.Target, delta int64) (model.Result, error) {
	if t.Type == model.UserStatsTotalUnreadCount || t.Type == model.UserStatsUnreadDialogsCount {
		return model.Result{}, errors.New("user_stats unavailable")
	}
	return b.CounterDB.Incr(ctx, t, delta)
}

func TestCascadeFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	db := store.NewMemDB()
	svc := New(&brokenUserStats{CounterDB: db}, db, ledger.New(db, log), nil, log)

	res, err := svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 2, src(model.EventMessageCreate, "", "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewValue)
}

func TestMutationErrorIsReturned(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.UpdateUnreadCount(context.Background(), "", "u1", "d1", 1, model.Source{})
	assert.Error(t, err)
}

func TestCanceledCallerStillWrites(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 1, src(model.EventMessageCreate, "", "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.userStats(t, "u1").TotalUnreadCount)
}

func TestConcurrentIncrementsNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.UpdateUnreadCount(ctx, "t1", "u1", "d1", 1, src(model.EventMessageCreate, "", "x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	us := e.userStats(t, "u1")
	assert.Equal(t, int64(40), us.TotalUnreadCount)
	assert.Equal(t, int64(1), us.UnreadDialogsCount)
}
