package recalc

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"PCounter/module/counter/ledger"
	"PCounter/module/counter/model"
	"PCounter/module/counter/service"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T) (*Engine, *service.CounterService, *store.MemDB) {
	log := zaptest.NewLogger(t)
	db := store.NewMemDB()
	svc := service.New(db, db, ledger.New(db, log), nil, log)
	return New(db, db, svc, log), svc, db
}

var repairSrc = model.Source{EventType: model.EventRepair, EventID: "repair-1", ActorType: model.ActorSystem}

// 增量维护与源数据重算结果一致
func TestRecalculateUserStatsConverges(t *testing.T) {
	ctx := context.Background()
	eng, svc, db := newEngine(t)
	s := model.Source{EventType: model.EventMessageCreate}
	rnd := rand.New(rand.NewSource(7))

	dialogs := []string{"d1", "d2", "d3", "d4"}
	for _, d := range dialogs {
		db.AddMember("t1", d, "u1")
		_, err := svc.UpdateUserStatsDialogCount(ctx, "t1", "u1", 1, s)
		require.NoError(t, err)
	}
	for i := 0; i < 200; i++ {
		d := dialogs[rnd.Intn(len(dialogs))]
		delta := int64(rnd.Intn(5) - 2)
		_, err := svc.UpdateUnreadCount(ctx, "t1", "u1", d, delta, s)
		require.NoError(t, err)
	}
	for i := 0; i < 7; i++ {
		db.AddMessage(model.Message{TenantID: "t1", MessageID: "m" + string(rune('a'+i)), DialogID: "d1", SenderID: "u1"})
		_, err := svc.UpdateUserStatsTotalMessagesCount(ctx, "t1", "u1", 1, s)
		require.NoError(t, err)
	}

	incremental, err := db.GetUserStats(ctx, "t1", "u1")
	require.NoError(t, err)

	got, err := eng.RecalculateUserStats(ctx, "t1", "u1", repairSrc)
	require.NoError(t, err)
	assert.Equal(t, incremental.DialogCount, got.DialogCount)
	assert.Equal(t, incremental.UnreadDialogsCount, got.UnreadDialogsCount)
	assert.Equal(t, incremental.TotalUnreadCount, got.TotalUnreadCount)
	assert.Equal(t, incremental.TotalMessagesCount, got.TotalMessagesCount)

	// 覆盖写入也记账本
	hist, err := ledger.New(db, nil).GetCounterHistory(ctx, "t1", model.HistoryFilter{Operation: model.OpRecalculate}, 0)
	require.NoError(t, err)
	assert.Len(t, hist, len(model.UserStatsTypes))
	assert.Equal(t, "repair-1", hist[0].SourceEventID)
}

func TestRecalculateUserStatsRepairsDrift(t *testing.T) {
	ctx := context.Background()
	eng, _, db := newEngine(t)
	db.AddMember("t1", "d1", "u1")
	_, err := db.Set(ctx, model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u1"}, 3)
	require.NoError(t, err)
	// 已退出会话的残留行不计入
	_, err = db.Set(ctx, model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "gone:u1"}, 9)
	require.NoError(t, err)
	_, err = db.Set(ctx, model.Target{TenantID: "t1", Type: model.UserStatsTotalUnreadCount, EntityID: "u1"}, 42)
	require.NoError(t, err)

	got, err := eng.RecalculateUserStats(ctx, "t1", "u1", repairSrc)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalUnreadCount)
	assert.Equal(t, int64(1), got.UnreadDialogsCount)
	assert.Equal(t, int64(1), got.DialogCount)

	us, err := db.GetUserStats(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), us.TotalUnreadCount)
}

func TestCalculatePackStatsSumVsUnique(t *testing.T) {
	ctx := context.Background()
	eng, _, db := newEngine(t)
	db.LinkPack("t1", "p1", "A")
	db.LinkPack("t1", "p1", "B")
	for _, u := range []string{"shared", "a1"} {
		db.AddMember("t1", "A", u)
	}
	// B 与 A 共享 shared、a1：2+3=5，并集 {shared,a1,b1}=3
	for _, u := range []string{"shared", "a1", "b1"} {
		db.AddMember("t1", "B", u)
	}
	for i := 0; i < 10; i++ {
		db.AddMessage(model.Message{TenantID: "t1", MessageID: "A-" + string(rune('0'+i)), DialogID: "A", SenderID: "a1"})
	}
	for i := 0; i < 5; i++ {
		db.AddMessage(model.Message{TenantID: "t1", MessageID: "B-" + string(rune('0'+i)), DialogID: "B", SenderID: "b1"})
	}
	db.AddTopic("t1", "A", "x")
	db.AddTopic("t1", "B", "x")
	db.AddTopic("t1", "B", "y")

	ps, err := eng.CalculatePackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), ps.MessageCount)
	assert.Equal(t, int64(5), ps.SumMemberCount)
	assert.Equal(t, int64(3), ps.UniqueMemberCount)
	assert.Equal(t, int64(2), ps.DialogCount)
	assert.Equal(t, int64(3), ps.SumTopicCount)
	assert.Equal(t, int64(2), ps.UniqueTopicCount)

	// 只有一个共享成员时并集是 4
	db.AddMember("t1", "B", "b2")
	ps, err = eng.CalculatePackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), ps.SumMemberCount)
	assert.Equal(t, int64(4), ps.UniqueMemberCount)

	// 只计算不写入
	stored, err := db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Zero(t, stored.MessageCount)

	_, err = eng.RecalculatePackStats(ctx, "t1", "p1", repairSrc)
	require.NoError(t, err)
	stored, err = db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), stored.MessageCount)
	assert.Equal(t, int64(4), stored.UniqueMemberCount)
}

func TestRecalculateUserPackStats(t *testing.T) {
	ctx := context.Background()
	eng, svc, db := newEngine(t)
	db.LinkPack("t1", "p1", "d1")
	db.LinkPack("t1", "p1", "d2")
	s := model.Source{EventType: model.EventMessageCreate}
	for d, n := range map[string]int64{"d1": 2, "d2": 3, "d3": 7} {
		_, err := svc.UpdateUnreadCount(ctx, "t1", "u1", d, n, s)
		require.NoError(t, err)
	}

	sum, err := eng.RecalculateUserPackStats(ctx, "t1", "p1", "u1", repairSrc)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)
	v, _, err := db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserPackUnread, EntityID: "p1:u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	require.NoError(t, eng.RefreshDialogPacks(ctx, "t1", "d3", []string{"u1"}, repairSrc))
	db.LinkPack("t1", "p2", "d3")
	require.NoError(t, eng.RefreshDialogPacks(ctx, "t1", "d3", []string{"u1"}, repairSrc))
	v, _, _ = db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserPackUnread, EntityID: "p2:u1"})
	assert.Equal(t, int64(7), v)
	ps, err := db.GetPackStats(ctx, "t1", "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ps.DialogCount)
}

type brokenSource struct {
	store.SourceDB
}

func (brokenSource) DialogsOfUser(context.Context, string, string) ([]string, error) {
	return nil, errors.New("members unavailable")
}

func TestRecalculateErrorsPropagate(t *testing.T) {
	log := zaptest.NewLogger(t)
	db := store.NewMemDB()
	svc := service.New(db, db, ledger.New(db, log), nil, log)
	eng := New(db, brokenSource{SourceDB: db}, svc, log)

	_, err := eng.RecalculateUserStats(context.Background(), "t1", "u1", repairSrc)
	require.Error(t, err)
	assert.True(t, errs.ErrRecalculate.Is(err))
}
