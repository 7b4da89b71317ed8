package repair

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/model"
	"PCounter/module/counter/recalc"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"
	"PCounter/tools/ids"
	"PCounter/tools/safe"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Config struct {
	Schedule string
	Tenants  []string
	Workers  int
	Timeout  time.Duration
}

// Finalizer updatectx.Coordinator 的子集
type Finalizer interface {
	FinalizeUsers(ctx context.Context, tenantID string, userIDs []string, eventID string) []*model.Notification
}

// Report 一次修复的统计
type Report struct {
	Tenants   int
	Users     int
	Packs     int
	UserPacks int
	Failed    int
}

// Repairer 定时按源数据重算，修正增量路径上的漂移
type Repairer struct {
	cfg     Config
	eng     *recalc.Engine
	source  store.SourceDB
	fin     Finalizer
	pool    pond.Pool
	cron    *cron.Cron
	log     *zap.Logger
	running atomic.Bool
}

func New(eng *recalc.Engine, source store.SourceDB, fin Finalizer, cfg Config, log *zap.Logger) *Repairer {
	safe.MustNotNil(eng, "recalc engine")
	safe.MustNotNil(source, "source db")
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Repairer{
		cfg:    cfg,
		eng:    eng,
		source: source,
		fin:    fin,
		pool:   pond.NewPool(cfg.Workers),
		log:    logger.Or(log).Named("repair"),
	}
}

// Schedule 注册 cron（带秒字段），需要再调用 Start
func (r *Repairer) Schedule(ctx context.Context) error {
	r.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(r.log)))))
	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		rep, err := r.RunOnce(rctx)
		if err != nil {
			r.log.Warn("repair run finished with errors", zap.Any("report", rep), zap.Error(err))
			return
		}
		r.log.Info("repair run finished", zap.Any("report", rep))
	})
	return errs.WrapMsg(err, "schedule repair", "schedule", r.cfg.Schedule)
}

func (r *Repairer) Start() {
	if r.cron != nil {
		r.cron.Start()
		r.log.Info("repair cron started", zap.String("schedule", r.cfg.Schedule), zap.Strings("tenants", r.cfg.Tenants))
	}
}

// Stop 等待进行中的任务结束
func (r *Repairer) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.pool.StopAndWait()
}

// RunOnce 依次修复配置的租户；上一次还没结束时直接跳过
func (r *Repairer) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	if !r.running.CompareAndSwap(false, true) {
		r.log.Info("repair already running, skip")
		return rep, nil
	}
	defer r.running.Store(false)

	var errList []error
	for _, tenant := range r.cfg.Tenants {
		if err := r.repairTenant(ctx, tenant, &rep); err != nil {
			errList = append(errList, err)
		}
		rep.Tenants++
	}
	return rep, errors.Join(errList...)
}

func (r *Repairer) repairTenant(ctx context.Context, tenantID string, rep *Report) error {
	src := model.Source{EventType: model.EventRepair, EventID: ids.NewEventID("repair"), ActorType: model.ActorSystem}

	users, err := r.source.ListUsers(ctx, tenantID)
	if err != nil {
		return errs.WrapMsg(err, "list users", "tenant", tenantID)
	}
	packs, err := r.source.ListPacks(ctx, tenantID)
	if err != nil {
		return errs.WrapMsg(err, "list packs", "tenant", tenantID)
	}

	var (
		mu      sync.Mutex
		failed  int
		touched = make(map[string]struct{})
	)
	record := func(user string, err error, what string, kv ...zap.Field) bool {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			r.log.Warn("repair "+what+" failed", append(kv, zap.String("tenant", tenantID), zap.Error(err))...)
			return false
		}
		if user != "" {
			touched[user] = struct{}{}
		}
		return true
	}

	group := r.pool.NewGroupContext(ctx)
	for _, u := range users {
		group.Submit(func() {
			_, err := r.eng.RecalculateUserStats(ctx, tenantID, u, src)
			record(u, err, "user stats", zap.String("user", u))
		})
	}
	for _, p := range packs {
		group.Submit(func() {
			_, err := r.eng.RecalculatePackStats(ctx, tenantID, p, src)
			record("", err, "pack stats", zap.String("pack", p))
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return errs.WrapMsg(err, "repair tenant", "tenant", tenantID)
	}

	userPacks := 0
	for _, p := range packs {
		dialogs, err := r.source.DialogsOfPack(ctx, tenantID, p)
		if !record("", err, "dialogs of pack", zap.String("pack", p)) {
			continue
		}
		members := make(map[string]struct{})
		for _, d := range dialogs {
			ms, err := r.source.MembersOfDialog(ctx, tenantID, d)
			if !record("", err, "members of dialog", zap.String("dialog", d)) {
				continue
			}
			for _, m := range ms {
				members[m] = struct{}{}
			}
		}
		group := r.pool.NewGroupContext(ctx)
		for m := range members {
			userPacks++
			group.Submit(func() {
				_, err := r.eng.RecalculateUserPackStats(ctx, tenantID, p, m, src)
				record(m, err, "user pack stats", zap.String("pack", p), zap.String("user", m))
			})
		}
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			return errs.WrapMsg(err, "repair user packs", "tenant", tenantID, "pack", p)
		}
	}

	// 只有实际发生变化的用户会有 context，其余 finalize 为空
	notify := make([]string, 0, len(touched))
	for u := range touched {
		notify = append(notify, u)
	}
	if r.fin != nil && len(notify) > 0 {
		r.fin.FinalizeUsers(ctx, tenantID, notify, src.EventID)
	}

	rep.Users += len(users)
	rep.Packs += len(packs)
	rep.UserPacks += userPacks
	rep.Failed += failed
	if failed > 0 {
		return errs.ErrRecalculate.WrapMsg("repair had failures", "tenant", tenantID, "failed", failed)
	}
	return nil
}
