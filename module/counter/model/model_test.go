package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRoundTrip(t *testing.T) {
	f := Field{Type: UserDialogUnread, EntityID: DialogUserKey("d1", "u1")}
	got, err := DecodeField(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = DecodeField("no-separator")
	assert.Error(t, err)
}

func TestNotificationKey(t *testing.T) {
	assert.Equal(t, "dialogs.d1.unreadCount", Field{Type: UserDialogUnread, EntityID: "d1:u1"}.NotificationKey())
	assert.Equal(t, "packs.p1.unreadCount", Field{Type: UserPackUnread, EntityID: "p1:u1"}.NotificationKey())
	assert.Equal(t, "userStats.totalUnreadCount", Field{Type: UserStatsTotalUnreadCount, EntityID: "u1"}.NotificationKey())
}

func TestOwnerOf(t *testing.T) {
	u, ok := OwnerOf(Target{Type: UserDialogUnread, EntityID: "dlg:42:u7"})
	require.True(t, ok)
	assert.Equal(t, "u7", u)

	u, ok = OwnerOf(Target{Type: UserStatsDialogCount, EntityID: "u9"})
	require.True(t, ok)
	assert.Equal(t, "u9", u)

	_, ok = OwnerOf(Target{Type: ReactionCounter("like"), EntityID: "m1"})
	assert.False(t, ok)
}

func TestTally(t *testing.T) {
	p, v, ok := ReactionCounter("👍").Tally()
	require.True(t, ok)
	assert.Equal(t, ReactionPrefix, p)
	assert.Equal(t, "👍", v)

	_, _, ok = CounterType(StatusPrefix).Tally()
	assert.False(t, ok)
	_, _, ok = UserDialogUnread.Tally()
	assert.False(t, ok)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(1, -3))
	assert.Equal(t, int64(4), Clamp(1, 3))
	assert.Equal(t, int64(0), Clamp(0, 0))
}

func TestHistoryFilterMatch(t *testing.T) {
	e := NewHistoryEntry(Target{TenantID: "t", Type: UserDialogUnread, EntityID: "d:u"}, Result{OldValue: 1, NewValue: 0}, OpDecrement, Source{EventID: "e1"}, fixedTime)
	assert.Equal(t, int64(-1), e.Delta)
	assert.True(t, HistoryFilter{}.Match("t", e))
	assert.False(t, HistoryFilter{}.Match("other", e))
	assert.True(t, HistoryFilter{SourceEventID: "e1", Operation: OpDecrement}.Match("t", e))
	assert.False(t, HistoryFilter{EntityID: "x"}.Match("t", e))
	assert.False(t, HistoryFilter{Since: fixedTime.Add(1)}.Match("t", e))
	assert.True(t, HistoryFilter{Until: fixedTime.Add(1)}.Match("t", e))
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
