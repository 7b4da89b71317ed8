package updatectx

import (
	"context"
	"errors"
	"testing"
	"time"

	"PCounter/module/counter/mocks"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newCoordinator(t *testing.T) (*Coordinator, *store.MemDB, *mocks.MockPublisher) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	db := store.NewMemDB()
	c := NewCoordinator(NewMemoryStore(time.Minute, zaptest.NewLogger(t)), db, pub, zaptest.NewLogger(t))
	return c, db, pub
}

func TestFinalizeEmitsCurrentValues(t *testing.T) {
	ctx := context.Background()
	c, db, pub := newCoordinator(t)

	unread := model.Target{TenantID: "t1", Type: model.UserDialogUnread, EntityID: "d1:u1"}
	total := model.Target{TenantID: "t1", Type: model.UserStatsTotalUnreadCount, EntityID: "u1"}
	for i := 0; i < 3; i++ {
		_, err := db.Incr(ctx, unread, 1)
		require.NoError(t, err)
		require.NoError(t, c.Accumulate(ctx, "t1", "u1", "evt1", model.Field{Type: unread.Type, EntityID: unread.EntityID}))
	}
	_, err := db.Incr(ctx, total, 3)
	require.NoError(t, err)
	require.NoError(t, c.Accumulate(ctx, "t1", "u1", "evt1", model.Field{Type: total.Type, EntityID: total.EntityID}))

	var got *model.Notification
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n *model.Notification) error {
		got = n
		return nil
	}).Times(1)

	n, err := c.Finalize(ctx, "t1", "u1", "evt1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, n, got)
	assert.Equal(t, model.EventTypeUserStatsUpdate, got.EventType)
	assert.Equal(t, "evt1", got.SourceEventID)
	assert.Equal(t, map[string]int64{
		"dialogs.d1.unreadCount":     3,
		"userStats.totalUnreadCount": 3,
	}, got.ChangedFields)

	// 重复 finalize 不再发出
	n, err = c.Finalize(ctx, "t1", "u1", "evt1")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestFinalizeWithoutContextEmitsNothing(t *testing.T) {
	c, _, _ := newCoordinator(t)
	n, err := c.Finalize(context.Background(), "t1", "u1", "evt-none")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestFinalizePublishErrorIsLogged(t *testing.T) {
	ctx := context.Background()
	c, _, pub := newCoordinator(t)
	require.NoError(t, c.Accumulate(ctx, "t1", "u1", "evt1", model.Field{Type: model.UserStatsDialogCount, EntityID: "u1"}))
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	n, err := c.Finalize(ctx, "t1", "u1", "evt1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(0), n.ChangedFields["userStats.dialogCount"])
}

func TestAccumulateRejectsIncompleteKey(t *testing.T) {
	c, _, _ := newCoordinator(t)
	err := c.Accumulate(context.Background(), "t1", "", "evt1", model.Field{Type: model.UserStatsDialogCount, EntityID: "u1"})
	assert.True(t, errs.ErrArgs.Is(err))
}

type failingCounters struct {
	store.CounterDB
	failFor string
}

func (f *failingCounters) Get(ctx context.Context, t model.Target) (int64, bool, error) {
	if t.EntityID == f.failFor {
		return 0, false, errors.New("read failed")
	}
	return f.CounterDB.Get(ctx, t)
}

func TestFinalizeUsersIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	counters := &failingCounters{CounterDB: store.NewMemDB(), failFor: "u2"}
	c := NewCoordinator(NewMemoryStore(time.Minute, zaptest.NewLogger(t)), counters, pub, zaptest.NewLogger(t))

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, c.Accumulate(ctx, "t1", u, "evt1", model.Field{Type: model.UserStatsDialogCount, EntityID: u}))
	}
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	out := c.FinalizeUsers(ctx, "t1", []string{"u1", "u2", "u3", "u4"}, "evt1")
	require.Len(t, out, 2)
	assert.Equal(t, "u1", out[0].UserID)
	assert.Equal(t, "u3", out[1].UserID)
}

func TestFinalizeKeepsReadableFieldsAndLogsLost(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	core, logs := observer.New(zap.ErrorLevel)
	counters := &failingCounters{CounterDB: store.NewMemDB(), failFor: "d1:u1"}
	c := NewCoordinator(NewMemoryStore(time.Minute, zaptest.NewLogger(t)), counters, pub, zap.New(core))

	require.NoError(t, c.Accumulate(ctx, "t1", "u1", "evt1", model.Field{Type: model.UserStatsDialogCount, EntityID: "u1"}))
	require.NoError(t, c.Accumulate(ctx, "t1", "u1", "evt1", model.Field{Type: model.UserDialogUnread, EntityID: "d1:u1"}))
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	n, err := c.Finalize(ctx, "t1", "u1", "evt1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, map[string]int64{"userStats.dialogCount": 0}, n.ChangedFields)

	lost := logs.FilterMessage("claimed context fields not notified").All()
	require.Len(t, lost, 1)
	assert.Len(t, lost[0].ContextMap()["claimed"], 2)
	assert.Equal(t, []any{model.Field{Type: model.UserDialogUnread, EntityID: "d1:u1"}.Encode()}, lost[0].ContextMap()["lost"])
}
