package store

import (
	"context"
	"fmt"
	"strings"

	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgHistorySchema = `
CREATE TABLE IF NOT EXISTS counter_history (
	id                BIGINT PRIMARY KEY,
	tenant_id         TEXT        NOT NULL,
	counter_type      TEXT        NOT NULL,
	entity_id         TEXT        NOT NULL,
	old_value         BIGINT      NOT NULL,
	new_value         BIGINT      NOT NULL CHECK (new_value >= 0),
	delta             BIGINT      NOT NULL,
	operation         TEXT        NOT NULL,
	source_event_type TEXT        NOT NULL DEFAULT '',
	source_event_id   TEXT        NOT NULL DEFAULT '',
	actor_id          TEXT        NOT NULL DEFAULT '',
	actor_type        TEXT        NOT NULL DEFAULT '',
	ts                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_counter_history_target ON counter_history (tenant_id, counter_type, entity_id, ts DESC);
CREATE INDEX IF NOT EXISTS ix_counter_history_event ON counter_history (tenant_id, source_event_id);
`

// PgHistoryDB 账本的 postgres 实现，只 INSERT / SELECT
type PgHistoryDB struct {
	pool *pgxpool.Pool
}

func NewPgHistoryDB(ctx context.Context, url string) (*PgHistoryDB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgxpool new")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "pg ping")
	}
	return &PgHistoryDB{pool: pool}, nil
}

// EnsureSchema 建表建索引（幂等）
func (p *PgHistoryDB) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, pgHistorySchema)
	return errs.WrapMsg(err, "ensure counter_history schema")
}

func (p *PgHistoryDB) Close() { p.pool.Close() }

func (p *PgHistoryDB) Insert(ctx context.Context, e *model.HistoryEntry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO counter_history
	(id, tenant_id, counter_type, entity_id, old_value, new_value, delta, operation,
	 source_event_type, source_event_id, actor_id, actor_type, ts)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.TenantID, string(e.CounterType), e.EntityID, e.OldValue, e.NewValue, e.Delta, string(e.Operation),
		e.SourceEventType, e.SourceEventID, e.ActorID, e.ActorType, e.Timestamp)
	return errs.WrapMsg(err, "insert counter history", "tenant", e.TenantID, "type", e.CounterType, "entity", e.EntityID)
}

// pgHistoryQuery 拼接 WHERE；参数序号从 $1 开始
func pgHistoryQuery(tenantID string, f model.HistoryFilter, limit int) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s $%d", col, len(args)))
	}
	if f.CounterType != "" {
		add("counter_type =", string(f.CounterType))
	}
	if f.EntityID != "" {
		add("entity_id =", f.EntityID)
	}
	if f.SourceEventID != "" {
		add("source_event_id =", f.SourceEventID)
	}
	if f.Operation != "" {
		add("operation =", string(f.Operation))
	}
	if !f.Since.IsZero() {
		add("ts >=", f.Since)
	}
	if !f.Until.IsZero() {
		add("ts <", f.Until)
	}
	args = append(args, limit)
	q := `SELECT id, tenant_id, counter_type, entity_id, old_value, new_value, delta, operation,
	source_event_type, source_event_id, actor_id, actor_type, ts
FROM counter_history WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d", len(args))
	return q, args
}

func (p *PgHistoryDB) Find(ctx context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error) {
	q, args := pgHistoryQuery(tenantID, f, limit)
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.WrapMsg(err, "query counter history", "tenant", tenantID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.HistoryEntry, error) {
		var (
			e           model.HistoryEntry
			ctype, oper string
		)
		err := row.Scan(&e.ID, &e.TenantID, &ctype, &e.EntityID, &e.OldValue, &e.NewValue, &e.Delta, &oper,
			&e.SourceEventType, &e.SourceEventID, &e.ActorID, &e.ActorType, &e.Timestamp)
		e.CounterType = model.CounterType(ctype)
		e.Operation = model.Operation(oper)
		return &e, err
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "scan counter history", "tenant", tenantID)
	}
	return out, nil
}
