package model

import "time"

// HistoryEntry 账本记录，写入后不再修改；NewValue = OldValue + Delta 且 NewValue >= 0
type HistoryEntry struct {
	ID              int64       `bson:"_id" json:"id"`
	TenantID        string      `bson:"tenant_id" json:"tenantId"`
	CounterType     CounterType `bson:"counter_type" json:"counterType"`
	EntityID        string      `bson:"entity_id" json:"entityId"`
	OldValue        int64       `bson:"old_value" json:"oldValue"`
	NewValue        int64       `bson:"new_value" json:"newValue"`
	Delta           int64       `bson:"delta" json:"delta"`
	Operation       Operation   `bson:"operation" json:"operation"`
	SourceEventType string      `bson:"source_event_type" json:"sourceEventType"`
	SourceEventID   string      `bson:"source_event_id" json:"sourceEventId"`
	ActorID         string      `bson:"actor_id" json:"actorId"`
	ActorType       string      `bson:"actor_type" json:"actorType"`
	Timestamp       time.Time   `bson:"timestamp" json:"timestamp"`
}

func (*HistoryEntry) GetTableName() string { return "counter_history" }

// NewHistoryEntry 由变更结果构建账本记录，Delta 取实际生效值
func NewHistoryEntry(t Target, r Result, op Operation, src Source, now time.Time) *HistoryEntry {
	return &HistoryEntry{
		TenantID:        t.TenantID,
		CounterType:     t.Type,
		EntityID:        t.EntityID,
		OldValue:        r.OldValue,
		NewValue:        r.NewValue,
		Delta:           r.Effective(),
		Operation:       op,
		SourceEventType: src.EventType,
		SourceEventID:   src.EventID,
		ActorID:         src.ActorID,
		ActorType:       src.ActorType,
		Timestamp:       now,
	}
}

// HistoryFilter 空字段不参与过滤
type HistoryFilter struct {
	CounterType   CounterType `json:"counterType" form:"counterType"`
	EntityID      string      `json:"entityId" form:"entityId"`
	SourceEventID string      `json:"sourceEventId" form:"sourceEventId"`
	Operation     Operation   `json:"operation" form:"operation"`
	Since         time.Time   `json:"since" form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until         time.Time   `json:"until" form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Match 内存实现与测试共用的过滤语义
func (f HistoryFilter) Match(tenantID string, e *HistoryEntry) bool {
	if e.TenantID != tenantID {
		return false
	}
	if f.CounterType != "" && e.CounterType != f.CounterType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.SourceEventID != "" && e.SourceEventID != f.SourceEventID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
