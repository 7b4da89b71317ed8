package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PCounter/module/counter/ledger"
	"PCounter/module/counter/model"
	"PCounter/module/counter/recalc"
	"PCounter/module/counter/service"
	"PCounter/module/counter/store"
	"PCounter/module/counter/updatectx"
	"PCounter/service/natsx"
	"PCounter/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu   sync.Mutex
	sent []*model.Notification
}

func (r *recorder) Publish(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) take() []*model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

func byUser(ns []*model.Notification) map[string]*model.Notification {
	out := make(map[string]*model.Notification, len(ns))
	for _, n := range ns {
		out[n.UserID] = n
	}
	return out
}

type fixture struct {
	db  *store.MemDB
	p   *Pipeline
	eng *recalc.Engine
	pub *recorder
	led *ledger.Service
	svc *service.CounterService
}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	db := store.NewMemDB()
	pub := &recorder{}
	coord := updatectx.NewCoordinator(updatectx.NewMemoryStore(time.Minute, log), db, pub, log)
	led := ledger.New(db, log)
	svc := service.New(db, db, led, coord, log)
	eng := recalc.New(db, db, svc, log)
	return &fixture{db: db, p: New(svc, eng, db, coord, log), eng: eng, pub: pub, led: led, svc: svc}
}

func event(typ, id, actor string, data map[string]any) *model.Event {
	return &model.Event{Type: typ, TenantID: "t1", EventID: id, ActorID: actor, ActorType: model.ActorUser, Data: data}
}

func (f *fixture) stats(t *testing.T, user string) *model.UserStats {
	us, err := f.db.GetUserStats(context.Background(), "t1", user)
	require.NoError(t, err)
	return us
}

func (f *fixture) seedDialog(members ...string) {
	for _, u := range members {
		f.db.AddMember("t1", "d1", u)
	}
}

func TestMessageCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2", "u3")
	f.db.LinkPack("t1", "p1", "d1")
	f.db.AddMessage(model.Message{TenantID: "t1", MessageID: "m1", DialogID: "d1", SenderID: "u1"})

	err := f.p.Handle(ctx, event(model.EventMessageCreate, "evt1", "u1", map[string]any{
		"messageId": "m1", "dialogId": "d1", "senderId": "u1", "status": model.StatusSent,
	}))
	require.NoError(t, err)

	for _, u := range []string{"u2", "u3"} {
		us := f.stats(t, u)
		assert.Equal(t, int64(1), us.TotalUnreadCount, u)
		assert.Equal(t, int64(1), us.UnreadDialogsCount, u)
	}
	assert.Zero(t, f.stats(t, "u1").TotalUnreadCount)
	assert.Equal(t, int64(1), f.stats(t, "u1").TotalMessagesCount)

	sent, found, err := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.StatusCounter(model.StatusSent), EntityID: "m1"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), sent)

	ps, err := f.db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ps.MessageCount)
	assert.Equal(t, int64(3), ps.UniqueMemberCount)

	ns := byUser(f.pub.take())
	require.Len(t, ns, 3)
	assert.Equal(t, int64(1), ns["u2"].ChangedFields["dialogs.d1.unreadCount"])
	assert.Equal(t, int64(1), ns["u2"].ChangedFields["packs.p1.unreadCount"])
	assert.Equal(t, int64(1), ns["u1"].ChangedFields["userStats.totalMessagesCount"])
	for _, n := range ns {
		assert.Equal(t, "evt1", n.SourceEventID)
	}
}

func TestMessageDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2", "u3")
	f.db.LinkPack("t1", "p1", "d1")
	f.db.AddMessage(model.Message{TenantID: "t1", MessageID: "m1", DialogID: "d1", SenderID: "u1"})
	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageCreate, "evt1", "u1", map[string]any{
		"messageId": "m1", "dialogId": "d1", "senderId": "u1", "status": model.StatusSent,
	})))
	f.pub.take()

	// 上游先删消息行，再发事件；u3 已读过，不在 unreadUserIds 里
	f.db.DeleteMessage("t1", "m1")
	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageDelete, "evt2", "u1", map[string]any{
		"messageId": "m1", "dialogId": "d1", "senderId": "u1",
		"unreadUserIds": []string{"u2"}, "statuses": []string{model.StatusSent},
	})))

	assert.Zero(t, f.stats(t, "u1").TotalMessagesCount)
	u2 := f.stats(t, "u2")
	assert.Zero(t, u2.TotalUnreadCount)
	assert.Zero(t, u2.UnreadDialogsCount)
	assert.Equal(t, int64(1), f.stats(t, "u3").TotalUnreadCount)

	_, found, err := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.StatusCounter(model.StatusSent), EntityID: "m1"})
	require.NoError(t, err)
	assert.False(t, found)

	ps, err := f.db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Zero(t, ps.MessageCount)
	up, _, err := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserPackUnread, EntityID: model.PackUserKey("p1", "u2")})
	require.NoError(t, err)
	assert.Zero(t, up)

	ns := byUser(f.pub.take())
	require.Len(t, ns, 2)
	require.Contains(t, ns, "u1")
	require.Contains(t, ns, "u2")
	assert.Equal(t, int64(0), ns["u1"].ChangedFields["userStats.totalMessagesCount"])
	assert.Equal(t, int64(0), ns["u2"].ChangedFields["dialogs.d1.unreadCount"])
	assert.Equal(t, int64(0), ns["u2"].ChangedFields["packs.p1.unreadCount"])
	for _, n := range ns {
		assert.Equal(t, "evt2", n.SourceEventID)
	}
}

func TestStatusUpdateToRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2")
	f.db.AddMessage(model.Message{TenantID: "t1", MessageID: "m1", DialogID: "d1", SenderID: "u1"})
	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageCreate, "evt1", "u1", map[string]any{
		"messageId": "m1", "dialogId": "d1", "senderId": "u1",
	})))
	f.pub.take()

	// 无 oldStatus：从状态表推断
	f.db.AddStatus(model.MessageStatus{ID: "s1", TenantID: "t1", MessageID: "m1", UserID: "u2", Status: model.StatusDelivered, CreatedAt: time.Now().Add(-time.Minute)})
	f.db.AddStatus(model.MessageStatus{ID: "s2", TenantID: "t1", MessageID: "m1", UserID: "u2", Status: model.StatusRead, CreatedAt: time.Now()})
	_, err := f.svc.UpdateStatusCount(ctx, "t1", "m1", model.StatusDelivered, 1, model.Source{EventID: "seed"})
	require.NoError(t, err)

	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageStatusUpdate, "evt2", "u2", map[string]any{
		"statusId": "s2", "messageId": "m1", "dialogId": "d1", "userId": "u2", "status": model.StatusRead,
	})))

	assert.Zero(t, f.stats(t, "u2").TotalUnreadCount)
	_, found, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.StatusCounter(model.StatusDelivered), EntityID: "m1"})
	assert.False(t, found)
	read, _, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.StatusCounter(model.StatusRead), EntityID: "m1"})
	assert.Equal(t, int64(1), read)

	ns := f.pub.take()
	require.Len(t, ns, 1)
	assert.Equal(t, "u2", ns[0].UserID)
	assert.Equal(t, int64(0), ns[0].ChangedFields["userStats.totalUnreadCount"])

	// 同状态重复：无变化
	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageStatusUpdate, "evt3", "u2", map[string]any{
		"messageId": "m1", "dialogId": "d1", "userId": "u2", "status": model.StatusRead, "oldStatus": model.StatusRead,
	})))
	assert.Empty(t, f.pub.take())
}

func TestReactionEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := map[string]any{"messageId": "m1", "dialogId": "d1", "userId": "u2", "reaction": "like"}

	require.NoError(t, f.p.Handle(ctx, event(model.EventReactionAdd, "e1", "u2", data)))
	v, _, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.ReactionCounter("like"), EntityID: "m1"})
	assert.Equal(t, int64(1), v)

	require.NoError(t, f.p.Handle(ctx, event(model.EventReactionRemove, "e2", "u2", data)))
	_, found, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.ReactionCounter("like"), EntityID: "m1"})
	assert.False(t, found)
	assert.Empty(t, f.pub.take())
}

func TestMemberRemoveDrainsAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2")
	require.NoError(t, f.p.Handle(ctx, event(model.EventMemberAdd, "j1", "u2", map[string]any{"dialogId": "d1", "userId": "u2"})))
	for i, id := range []string{"m1", "m2", "m3"} {
		f.db.AddMessage(model.Message{TenantID: "t1", MessageID: id, DialogID: "d1", SenderID: "u1"})
		require.NoError(t, f.p.Handle(ctx, event(model.EventMessageCreate, "c"+string(rune('0'+i)), "u1", map[string]any{
			"messageId": id, "dialogId": "d1", "senderId": "u1",
		})))
	}
	require.Equal(t, int64(3), f.stats(t, "u2").TotalUnreadCount)
	f.pub.take()

	require.NoError(t, f.p.Handle(ctx, event(model.EventMemberRemove, "leave1", "u2", map[string]any{"dialogId": "d1", "userId": "u2"})))

	us := f.stats(t, "u2")
	assert.Zero(t, us.TotalUnreadCount)
	assert.Zero(t, us.UnreadDialogsCount)
	assert.Zero(t, us.DialogCount)
	_, found, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u2"})
	assert.False(t, found)

	ns := f.pub.take()
	require.Len(t, ns, 1)
	assert.Equal(t, "leave1", ns[0].SourceEventID)
	assert.Equal(t, int64(0), ns[0].ChangedFields["userStats.totalUnreadCount"])
	assert.Equal(t, int64(0), ns[0].ChangedFields["userStats.dialogCount"])

	// 增量结果与重算一致
	inc := f.stats(t, "u2")
	got, err := f.eng.RecalculateUserStats(ctx, "t1", "u2", model.Source{EventType: model.EventRepair, EventID: "r"})
	require.NoError(t, err)
	assert.Equal(t, inc.DialogCount, got.DialogCount)
	assert.Equal(t, inc.TotalUnreadCount, got.TotalUnreadCount)
}

func TestPackLinkRecalculates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2")
	f.db.AddMessage(model.Message{TenantID: "t1", MessageID: "m1", DialogID: "d1", SenderID: "u1"})
	require.NoError(t, f.p.Handle(ctx, event(model.EventMessageCreate, "c1", "u1", map[string]any{
		"messageId": "m1", "dialogId": "d1", "senderId": "u1",
	})))
	f.pub.take()

	f.db.LinkPack("t1", "p1", "d1")
	require.NoError(t, f.p.Handle(ctx, event(model.EventPackLink, "l1", "admin", map[string]any{"packId": "p1", "dialogId": "d1"})))
	ps, err := f.db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ps.DialogCount)
	assert.Equal(t, int64(1), ps.MessageCount)
	ns := byUser(f.pub.take())
	require.Contains(t, ns, "u2")
	assert.Equal(t, int64(1), ns["u2"].ChangedFields["packs.p1.unreadCount"])

	f.db.UnlinkPack("t1", "p1", "d1")
	require.NoError(t, f.p.Handle(ctx, event(model.EventPackUnlink, "l2", "admin", map[string]any{"packId": "p1", "dialogId": "d1"})))
	ps, err = f.db.GetPackStats(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Zero(t, ps.DialogCount)
	v, _, _ := f.db.Get(ctx, model.Target{TenantID: "t1", Type: model.UserPackUnread, EntityID: "p1:u2"})
	assert.Zero(t, v)
}

func TestHandleRejectsBadEvents(t *testing.T) {
	f := newFixture(t)
	assert.True(t, errs.ErrArgs.Is(f.p.Handle(context.Background(), &model.Event{Type: "nope", TenantID: "t1"})))
	assert.True(t, errs.ErrArgs.Is(f.p.Handle(context.Background(), &model.Event{Type: model.EventMessageCreate})))
}

func TestMissingEventIDGetsULID(t *testing.T) {
	f := newFixture(t)
	f.seedDialog("u1", "u2")
	ev := event(model.EventMemberAdd, "", "u2", map[string]any{"dialogId": "d1", "userId": "u2"})
	require.NoError(t, f.p.Handle(context.Background(), ev))
	assert.Len(t, ev.EventID, 26)
	ns := f.pub.take()
	require.Len(t, ns, 1)
	assert.Equal(t, ev.EventID, ns[0].SourceEventID)
}

func TestTransportHandlers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDialog("u1", "u2")

	raw, err := json.Marshal(event(model.EventMemberAdd, "k1", "u2", map[string]any{"dialogId": "d1", "userId": "u2"}))
	require.NoError(t, err)
	require.NoError(t, f.p.KafkaHandler()(ctx, "counter.events-00", []byte("u2"), raw))
	assert.Equal(t, int64(1), f.stats(t, "u2").DialogCount)
	assert.Error(t, f.p.KafkaHandler()(ctx, "counter.events-00", nil, []byte("{")))

	raw, err = json.Marshal(&model.Event{Type: model.EventMemberAdd, TenantID: "t1", Data: map[string]any{"dialogId": "d1", "userId": "u1"}})
	require.NoError(t, err)
	h := f.p.NatsHandler()
	require.NoError(t, h(ctx, natsx.NatsxMessage{Subject: "counter.events", Data: raw, Header: map[string]string{natsx.HeaderMsgID: "nats-1"}}))
	ns := f.pub.take()
	var fromNats *model.Notification
	for _, n := range ns {
		if n.UserID == "u1" {
			fromNats = n
		}
	}
	require.NotNil(t, fromNats)
	assert.Equal(t, "nats-1", fromNats.SourceEventID)
	assert.NoError(t, h(ctx, natsx.NatsxMessage{Subject: "counter.events", Data: []byte("garbage")}))
}
