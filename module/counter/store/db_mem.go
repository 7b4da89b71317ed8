package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PCounter/module/counter/model"
)

// MemDB 单进程内存实现（CounterDB + HistoryDB + SourceDB），用于测试与本地运行。
// 一把锁保证单行读改写原子，语义与 mongo 实现一致。
type MemDB struct {
	mu sync.RWMutex

	rows    map[string]*memRow // Location.rowKey -> row
	history []*model.HistoryEntry

	members  map[string]map[string]struct{} // tenant\x00dialog -> users
	links    map[string]map[string]struct{} // tenant\x00pack -> dialogs
	messages map[string]model.Message       // tenant\x00message
	topics   map[string]map[string]struct{} // tenant\x00dialog -> topics
	statuses []model.MessageStatus

	// FailHistory 非 nil 时 Insert 返回该错误
	FailHistory error
}

type memRow struct {
	loc   Location
	value int64
}

var (
	_ CounterDB = (*MemDB)(nil)
	_ HistoryDB = (*MemDB)(nil)
	_ SourceDB  = (*MemDB)(nil)
)

func NewMemDB() *MemDB {
	return &MemDB{
		rows:     make(map[string]*memRow),
		members:  make(map[string]map[string]struct{}),
		links:    make(map[string]map[string]struct{}),
		messages: make(map[string]model.Message),
		topics:   make(map[string]map[string]struct{}),
	}
}

func keyConv(tenantID, id string) string { return tenantID + "\x00" + id }

// ---------- CounterDB ----------

func (m *MemDB) Incr(_ context.Context, t model.Target, delta int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(loc, delta, false), nil
}

func (m *MemDB) IncrTally(_ context.Context, t model.Target, delta int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(loc, delta, true), nil
}

func (m *MemDB) incrLocked(loc Location, delta int64, deleteAtZero bool) model.Result {
	k := loc.rowKey() + "\x00" + loc.Field
	row, ok := m.rows[k]
	if !ok {
		row = &memRow{loc: loc}
		m.rows[k] = row
	}
	res := model.Result{OldValue: row.value, NewValue: model.Clamp(row.value, delta)}
	row.value = res.NewValue
	if deleteAtZero && row.value <= 0 {
		delete(m.rows, k)
	}
	return res
}

func (m *MemDB) Set(_ context.Context, t model.Target, value int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	if value < 0 {
		value = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := loc.rowKey() + "\x00" + loc.Field
	row, ok := m.rows[k]
	if !ok {
		row = &memRow{loc: loc}
		m.rows[k] = row
	}
	res := model.Result{OldValue: row.value, NewValue: value}
	row.value = value
	return res, nil
}

func (m *MemDB) Get(_ context.Context, t model.Target) (int64, bool, error) {
	loc, err := Locate(t)
	if err != nil {
		return 0, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[loc.rowKey()+"\x00"+loc.Field]
	if !ok {
		return 0, false, nil
	}
	return row.value, true, nil
}

func (m *MemDB) DeleteUserDialog(_ context.Context, tenantID, dialogID, userID string) error {
	loc, err := Locate(model.Target{TenantID: tenantID, Type: model.UserDialogUnread, EntityID: model.DialogUserKey(dialogID, userID)})
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, loc.rowKey()+"\x00"+loc.Field)
	return nil
}

func (m *MemDB) UserDialogUnreads(_ context.Context, tenantID, userID string) (map[string]int64, error) {
	table := (&model.UserDialogStats{}).GetTableName()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, row := range m.rows {
		if row.loc.Table != table || row.loc.Keys[0].Value != tenantID || row.loc.Keys[2].Value != userID {
			continue
		}
		out[row.loc.Keys[1].Value.(string)] = row.value
	}
	return out, nil
}

func (m *MemDB) GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	out := &model.UserStats{TenantID: tenantID, UserID: userID}
	dst := map[model.CounterType]*int64{
		model.UserStatsDialogCount:        &out.DialogCount,
		model.UserStatsUnreadDialogsCount: &out.UnreadDialogsCount,
		model.UserStatsTotalUnreadCount:   &out.TotalUnreadCount,
		model.UserStatsTotalMessagesCount: &out.TotalMessagesCount,
	}
	for ct, p := range dst {
		v, _, err := m.Get(ctx, model.Target{TenantID: tenantID, Type: ct, EntityID: userID})
		if err != nil {
			return nil, err
		}
		*p = v
	}
	return out, nil
}

func (m *MemDB) GetPackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error) {
	out := &model.PackStats{TenantID: tenantID, PackID: packID}
	dst := map[model.CounterType]*int64{
		model.PackMessageCount:      &out.MessageCount,
		model.PackDialogCount:       &out.DialogCount,
		model.PackSumMemberCount:    &out.SumMemberCount,
		model.PackUniqueMemberCount: &out.UniqueMemberCount,
		model.PackSumTopicCount:     &out.SumTopicCount,
		model.PackUniqueTopicCount:  &out.UniqueTopicCount,
	}
	for ct, p := range dst {
		v, _, err := m.Get(ctx, model.Target{TenantID: tenantID, Type: ct, EntityID: packID})
		if err != nil {
			return nil, err
		}
		*p = v
	}
	return out, nil
}

// ---------- HistoryDB ----------

func (m *MemDB) Insert(_ context.Context, e *model.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailHistory != nil {
		return m.FailHistory
	}
	cp := *e
	m.history = append(m.history, &cp)
	return nil
}

func (m *MemDB) Find(_ context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.HistoryEntry
	// 倒序遍历，时间相同时后写入的在前
	for i := len(m.history) - 1; i >= 0; i-- {
		if e := m.history[i]; f.Match(tenantID, e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------- SourceDB seeding ----------

func addTo(set map[string]map[string]struct{}, k, v string) {
	s, ok := set[k]
	if !ok {
		s = make(map[string]struct{})
		set[k] = s
	}
	s[v] = struct{}{}
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *MemDB) AddMember(tenantID, dialogID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addTo(m.members, keyConv(tenantID, dialogID), userID)
}

func (m *MemDB) LinkPack(tenantID, packID, dialogID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addTo(m.links, keyConv(tenantID, packID), dialogID)
}

func (m *MemDB) UnlinkPack(tenantID, packID, dialogID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links[keyConv(tenantID, packID)], dialogID)
}

func (m *MemDB) AddMessage(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[keyConv(msg.TenantID, msg.MessageID)] = msg
}

func (m *MemDB) DeleteMessage(tenantID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, keyConv(tenantID, messageID))
}

func (m *MemDB) AddTopic(tenantID, dialogID, topicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addTo(m.topics, keyConv(tenantID, dialogID), topicID)
}

func (m *MemDB) AddStatus(st model.MessageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	m.statuses = append(m.statuses, st)
}

// ---------- SourceDB ----------

func (m *MemDB) DialogsOfUser(_ context.Context, tenantID, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + "\x00"
	var out []string
	for k, users := range m.members {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if _, ok := users[userID]; ok {
			out = append(out, k[len(prefix):])
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemDB) MembersOfDialog(_ context.Context, tenantID, dialogID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.members[keyConv(tenantID, dialogID)]), nil
}

func (m *MemDB) DialogsOfPack(_ context.Context, tenantID, packID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.links[keyConv(tenantID, packID)]), nil
}

func (m *MemDB) PacksOfDialog(_ context.Context, tenantID, dialogID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + "\x00"
	var out []string
	for k, dialogs := range m.links {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if _, ok := dialogs[dialogID]; ok {
			out = append(out, k[len(prefix):])
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemDB) CountMessagesBySender(_ context.Context, tenantID, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, msg := range m.messages {
		if msg.TenantID == tenantID && msg.SenderID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemDB) DialogFacts(_ context.Context, tenantID string, dialogIDs []string) ([]model.DialogFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DialogFacts, 0, len(dialogIDs))
	for _, d := range dialogIDs {
		f := model.DialogFacts{
			DialogID: d,
			Members:  sortedKeys(m.members[keyConv(tenantID, d)]),
			Topics:   sortedKeys(m.topics[keyConv(tenantID, d)]),
		}
		for _, msg := range m.messages {
			if msg.TenantID == tenantID && msg.DialogID == d {
				f.MessageCount++
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *MemDB) PreviousStatus(_ context.Context, tenantID, messageID, userID, excludeStatusID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  string
		bestT time.Time
	)
	for _, st := range m.statuses {
		if st.TenantID != tenantID || st.MessageID != messageID || st.UserID != userID || st.ID == excludeStatusID {
			continue
		}
		if best == "" || st.CreatedAt.After(bestT) {
			best, bestT = st.Status, st.CreatedAt
		}
	}
	return best, nil
}

func (m *MemDB) ListUsers(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + "\x00"
	set := make(map[string]struct{})
	for k, users := range m.members {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		for u := range users {
			set[u] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *MemDB) ListPacks(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + "\x00"
	var out []string
	for k, dialogs := range m.links {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && len(dialogs) > 0 {
			out = append(out, k[len(prefix):])
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemDB) DeleteMembership(_ context.Context, tenantID, dialogID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[keyConv(tenantID, dialogID)], userID)
	return nil
}
