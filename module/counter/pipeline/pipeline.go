package pipeline

import (
	"context"
	"errors"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/model"
	"PCounter/module/counter/recalc"
	"PCounter/module/counter/service"
	"PCounter/module/counter/store"
	"PCounter/tools/decode"
	"PCounter/tools/errs"
	"PCounter/tools/ids"

	"go.uber.org/zap"
)

// Finalizer updatectx.Coordinator 的子集
type Finalizer interface {
	FinalizeUsers(ctx context.Context, tenantID string, userIDs []string, eventID string) []*model.Notification
}

type handlerFunc func(ctx context.Context, ev *model.Event, run *run) error

// Pipeline 主写入成功后的计数阶段：一个领域事件 -> 若干计数变更 -> 每个受影响用户 finalize 一次
type Pipeline struct {
	svc      *service.CounterService
	recalc   *recalc.Engine
	source   store.SourceDB
	fin      Finalizer
	log      *zap.Logger
	handlers map[string]handlerFunc
}

func New(svc *service.CounterService, eng *recalc.Engine, source store.SourceDB, fin Finalizer, log *zap.Logger) *Pipeline {
	p := &Pipeline{
		svc:    svc,
		recalc: eng,
		source: source,
		fin:    fin,
		log:    logger.Or(log).Named("pipeline"),
	}
	p.handlers = map[string]handlerFunc{
		model.EventMessageCreate:       p.onMessageCreate,
		model.EventMessageDelete:       p.onMessageDelete,
		model.EventMessageStatusUpdate: p.onStatusUpdate,
		model.EventReactionAdd:         p.onReaction(1),
		model.EventReactionRemove:      p.onReaction(-1),
		model.EventMemberAdd:           p.onMemberAdd,
		model.EventMemberRemove:        p.onMemberRemove,
		model.EventPackLink:            p.onPackLink,
		model.EventPackUnlink:          p.onPackLink,
	}
	return p
}

// run 单个事件的处理状态
type run struct {
	src     model.Source
	users   []string
	seen    map[string]struct{}
	errList []error
}

func (r *run) touch(users ...string) {
	for _, u := range users {
		if u == "" {
			continue
		}
		if _, ok := r.seen[u]; ok {
			continue
		}
		r.seen[u] = struct{}{}
		r.users = append(r.users, u)
	}
}

func (r *run) fail(err error) {
	if err != nil {
		r.errList = append(r.errList, err)
	}
}

// Handle 处理一个事件。eventId 缺失时补一个 ulid。
// 返回的错误只用于记录；已经生效的计数不会回滚，受影响用户照常 finalize。
func (p *Pipeline) Handle(ctx context.Context, ev *model.Event) error {
	if ev.TenantID == "" || ev.Type == "" {
		return errs.ErrArgs.WrapMsg("event missing tenant or type", "type", ev.Type, "tenant", ev.TenantID)
	}
	h, ok := p.handlers[ev.Type]
	if !ok {
		return errs.ErrArgs.WrapMsg("unsupported event type", "type", ev.Type)
	}
	if ev.EventID == "" {
		ev.EventID = ids.NewEventID("")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	r := &run{src: ev.Source(), seen: make(map[string]struct{})}
	r.fail(h(ctx, ev, r))
	if len(r.users) > 0 {
		p.fin.FinalizeUsers(ctx, ev.TenantID, r.users, ev.EventID)
	}

	err := errors.Join(r.errList...)
	if err != nil {
		p.log.Warn("event handled with errors",
			zap.String("type", ev.Type), zap.String("tenant", ev.TenantID), zap.String("event", ev.EventID), zap.Error(err))
	}
	return err
}

func decodeData[T any](ev *model.Event) (*T, error) {
	v, err := decode.DecodeMap[T](ev.Data)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error(), "type", ev.Type, "event", ev.EventID)
	}
	return v, nil
}

// refreshPacks pack 汇总失败只记录
func (p *Pipeline) refreshPacks(ctx context.Context, ev *model.Event, dialogID string, users []string, r *run) {
	if err := p.recalc.RefreshDialogPacks(ctx, ev.TenantID, dialogID, users, r.src); err != nil {
		p.log.Warn("refresh pack roll-ups failed",
			zap.String("tenant", ev.TenantID), zap.String("dialog", dialogID), zap.Error(err))
	}
}

func (p *Pipeline) onMessageCreate(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.MessageCreated](ev)
	if err != nil {
		return err
	}
	members, err := p.source.MembersOfDialog(ctx, ev.TenantID, d.DialogID)
	if err != nil {
		return errs.WrapMsg(err, "members of dialog", "dialog", d.DialogID)
	}

	var recipients []string
	for _, u := range members {
		if u == d.SenderID {
			continue
		}
		_, err := p.svc.UpdateUnreadCount(ctx, ev.TenantID, u, d.DialogID, 1, r.src)
		r.fail(err)
		recipients = append(recipients, u)
	}
	r.touch(recipients...)

	if d.SenderID != "" {
		_, err := p.svc.UpdateUserStatsTotalMessagesCount(ctx, ev.TenantID, d.SenderID, 1, r.src)
		r.fail(err)
		r.touch(d.SenderID)
	}
	if d.Status != "" {
		_, err := p.svc.UpdateStatusCount(ctx, ev.TenantID, d.MessageID, d.Status, 1, r.src)
		r.fail(err)
	}
	p.refreshPacks(ctx, ev, d.DialogID, recipients, r)
	return nil
}

func (p *Pipeline) onMessageDelete(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.MessageDeleted](ev)
	if err != nil {
		return err
	}
	if d.SenderID != "" {
		_, err := p.svc.UpdateUserStatsTotalMessagesCount(ctx, ev.TenantID, d.SenderID, -1, r.src)
		r.fail(err)
		r.touch(d.SenderID)
	}
	for _, u := range d.UnreadUserIDs {
		_, err := p.svc.UpdateUnreadCount(ctx, ev.TenantID, u, d.DialogID, -1, r.src)
		r.fail(err)
	}
	r.touch(d.UnreadUserIDs...)
	for _, st := range d.Statuses {
		_, err := p.svc.UpdateStatusCount(ctx, ev.TenantID, d.MessageID, st, -1, r.src)
		r.fail(err)
	}
	p.refreshPacks(ctx, ev, d.DialogID, d.UnreadUserIDs, r)
	return nil
}

// onStatusUpdate 旧状态优先取事件里的 oldStatus；没有时查最近一条状态（并发下可能滞后，由重算修正）
func (p *Pipeline) onStatusUpdate(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.StatusUpdated](ev)
	if err != nil {
		return err
	}
	old := d.OldStatus
	if old == "" {
		old, err = p.source.PreviousStatus(ctx, ev.TenantID, d.MessageID, d.UserID, d.StatusID)
		if err != nil {
			p.log.Warn("previous status lookup failed",
				zap.String("message", d.MessageID), zap.String("user", d.UserID), zap.Error(err))
		}
	}
	if old == d.Status {
		return nil
	}
	if old != "" {
		_, err := p.svc.UpdateStatusCount(ctx, ev.TenantID, d.MessageID, old, -1, r.src)
		r.fail(err)
	}
	_, err = p.svc.UpdateStatusCount(ctx, ev.TenantID, d.MessageID, d.Status, 1, r.src)
	r.fail(err)

	if d.Status == model.StatusRead && d.DialogID != "" {
		_, err := p.svc.UpdateUnreadCount(ctx, ev.TenantID, d.UserID, d.DialogID, -1, r.src)
		r.fail(err)
		r.touch(d.UserID)
		p.refreshPacks(ctx, ev, d.DialogID, []string{d.UserID}, r)
	}
	return nil
}

func (p *Pipeline) onReaction(delta int64) handlerFunc {
	return func(ctx context.Context, ev *model.Event, r *run) error {
		d, err := decodeData[model.ReactionChanged](ev)
		if err != nil {
			return err
		}
		_, err = p.svc.UpdateReactionCount(ctx, ev.TenantID, d.MessageID, d.Reaction, delta, r.src)
		return err
	}
}

func (p *Pipeline) onMemberAdd(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.MembershipChanged](ev)
	if err != nil {
		return err
	}
	_, err = p.svc.UpdateUserStatsDialogCount(ctx, ev.TenantID, d.UserID, 1, r.src)
	r.fail(err)
	r.touch(d.UserID)
	p.refreshPacks(ctx, ev, d.DialogID, []string{d.UserID}, r)
	return nil
}

func (p *Pipeline) onMemberRemove(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.MembershipChanged](ev)
	if err != nil {
		return err
	}
	r.fail(p.svc.RemoveMembership(ctx, ev.TenantID, d.DialogID, d.UserID, r.src))
	_, err = p.svc.UpdateUserStatsDialogCount(ctx, ev.TenantID, d.UserID, -1, r.src)
	r.fail(err)
	r.touch(d.UserID)
	p.refreshPacks(ctx, ev, d.DialogID, []string{d.UserID}, r)
	return nil
}

// onPackLink link / unlink 后关联关系已由上游写好，这里只按新关系重算
func (p *Pipeline) onPackLink(ctx context.Context, ev *model.Event, r *run) error {
	d, err := decodeData[model.PackLinkChanged](ev)
	if err != nil {
		return err
	}
	if _, err := p.recalc.RecalculatePackStats(ctx, ev.TenantID, d.PackID, r.src); err != nil {
		r.fail(err)
	}
	members, err := p.source.MembersOfDialog(ctx, ev.TenantID, d.DialogID)
	if err != nil {
		return errs.WrapMsg(err, "members of dialog", "dialog", d.DialogID)
	}
	for _, u := range members {
		_, err := p.recalc.RecalculateUserPackStats(ctx, ev.TenantID, d.PackID, u, r.src)
		r.fail(err)
	}
	r.touch(members...)
	return nil
}
