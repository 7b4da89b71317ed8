package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"PCounter/config"
	"PCounter/logger"
	"PCounter/middleware"
	"PCounter/module/counter/ledger"
	"PCounter/module/counter/ops"
	"PCounter/module/counter/pipeline"
	"PCounter/module/counter/publisher"
	"PCounter/module/counter/recalc"
	"PCounter/module/counter/repair"
	"PCounter/module/counter/service"
	"PCounter/module/counter/store"
	"PCounter/module/counter/updatectx"
	"PCounter/service/kafka"
	"PCounter/service/mgo"
	"PCounter/service/natsx"
	redisx "PCounter/service/storage/redis"
	"PCounter/tools/errs"
	"PCounter/tools/ids"
	"PCounter/tools/safe"
	"PCounter/tools/security"

	"github.com/Shopify/sarama"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	bizNotify = "counter.notify"
	bizEvents = "counter.events"
)

type app struct {
	cfg *config.Config
	log *zap.Logger

	rdb         *redis.Client
	pgHistory   *store.PgHistoryDB
	nats        *natsx.NatsManager
	kafkaClient sarama.Client
	producer    sarama.SyncProducer
	dispatcher  *publisher.Dispatcher
	coord       *updatectx.Coordinator
	pipe        *pipeline.Pipeline
	repairer    *repair.Repairer
	watcher     *config.Watcher
	ops         *ops.Server

	wg sync.WaitGroup
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Named("app")}
	ids.SetNodeID(cfg.NodeID)

	// mongo: 计数 + 源数据（+ 默认的账本）
	if err := cfg.Mongo.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	mgo.StartAsync(ctx, &cfg.Mongo)
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := mgo.WaitReady(waitCtx, mgo.Manager())
	cancel()
	if err != nil {
		return nil, errs.WrapMsg(err, "wait mongo ready", "lastErr", fmt.Sprint(mgo.Err()))
	}
	db := mgo.GetDB()
	if err := store.EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}
	counters := store.NewMongoCounterDB(db)
	source := store.NewMongoSourceDB(db)

	var history store.HistoryDB
	switch cfg.History.Backend {
	case "postgres":
		pg, err := store.NewPgHistoryDB(ctx, cfg.History.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		a.pgHistory = pg
		history = pg
	case "mongo", "":
		history = store.NewMongoHistoryDB(db)
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown history backend", "backend", cfg.History.Backend)
	}

	cc := cfg.Counter
	if cc.ContextStore == "redis" || slices.Contains(cc.Publishers, "redis") {
		if err := redisx.InitRedis(cfg.Redis); err != nil {
			return nil, err
		}
		a.rdb = redisx.GetRedis()
	}
	if cc.EventSource == "nats" || slices.Contains(cc.Publishers, "nats") {
		idem := natsx.NewMemIdem(ctx, cfg.Nats.DedupWindow)
		if a.rdb != nil {
			idem = natsx.NewRedisIdem(a.rdb, "pcounter:idem:", cfg.Nats.DedupWindow)
		}
		nm, err := natsx.NewNatsManager(cfg.Nats.NatsxConfig,
			natsx.NatsxRecoverMiddleware(), natsx.NatsxIdemMiddleware(idem, cfg.Nats.DedupWindow))
		if err != nil {
			return nil, errs.WrapMsg(err, "connect nats")
		}
		a.nats = nm
	}
	if cc.EventSource == "kafka" || slices.Contains(cc.Publishers, "kafka") {
		client, err := kafka.NewClient(&cfg.Kafka.AppConfig)
		if err != nil {
			return nil, err
		}
		a.kafkaClient = client
	}

	pub, err := a.buildPublishers()
	if err != nil {
		return nil, err
	}
	a.dispatcher = publisher.NewDispatcher(pub, publisher.DispatcherConfig{
		Workers: cc.PublishWorkers,
		Retries: cc.PublishRetries,
		Timeout: cc.PublishTimeout,
	}, logger.Log)

	var ctxStore updatectx.Store
	switch cc.ContextStore {
	case "redis":
		ctxStore = updatectx.NewRedisStore(a.rdb, cc.ContextTTL)
	case "memory":
		mem := updatectx.NewMemoryStore(cc.ContextTTL, logger.Log)
		mem.StartReaper(ctx, cc.ReapInterval)
		ctxStore = mem
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown context store", "store", cc.ContextStore)
	}
	a.coord = updatectx.NewCoordinator(ctxStore, counters, a.dispatcher, logger.Log)

	led := ledger.New(history, logger.Log)
	svc := service.New(counters, source, led, a.coord, logger.Log, service.WithStorageTimeout(cc.StorageTimeout))
	eng := recalc.New(counters, source, svc, logger.Log)
	a.pipe = pipeline.New(svc, eng, source, a.coord, logger.Log)

	if cfg.Repair.Enabled {
		a.repairer = repair.New(eng, source, a.coord, repair.Config{
			Schedule: cfg.Repair.Schedule,
			Tenants:  cfg.Repair.Tenants,
			Workers:  cfg.Repair.Workers,
		}, logger.Log)
		if err := a.repairer.Schedule(ctx); err != nil {
			return nil, err
		}
	}

	// context_ttl / publish_retries 热更新
	a.watcher = config.NewWatcher(cc)
	a.watcher.OnChange(func(next config.CounterConfig) {
		if next.ContextTTL > 0 {
			a.coord.SetTTL(next.ContextTTL)
		}
		a.dispatcher.SetRetries(next.PublishRetries)
	})
	if cfg.Nacos.Enabled {
		if err := a.watcher.StartNacosWatcher(cfg.Nacos); err != nil {
			a.log.Warn("nacos watcher not started", zap.Error(err))
		}
	}

	deps := ops.Deps{
		History:    led,
		Stats:      svc,
		Recalc:     eng,
		Finalizer:  a.coord,
		Ready:      a.ready,
		ConfigView: func() any { return a.watcher.Current() },
	}
	if cfg.HTTP.OpsSecret != "" {
		deps.Auth = &middleware.AuthOptions{JWT: security.Options{Secret: []byte(cfg.HTTP.OpsSecret), Alg: cfg.HTTP.OpsAlg}}
	}
	a.ops = ops.NewServer(cfg.HTTP.Addr, ops.NewRouter(deps, logger.Log), logger.Log)
	return a, nil
}

func (a *app) buildPublishers() (publisher.Publisher, error) {
	var out publisher.Multi
	for _, name := range a.cfg.Counter.Publishers {
		switch name {
		case "nats":
			nc := a.cfg.Nats
			if err := a.nats.EnsureStream(nc.NotifyStream, []string{nc.NotifySubject}, nc.DedupWindow); err != nil {
				return nil, errs.WrapMsg(err, "ensure notify stream", "stream", nc.NotifyStream)
			}
			if err := a.nats.RegisterRoute(natsx.NatsxRoute{Biz: bizNotify, Subject: nc.NotifySubject, Mode: natsx.JetStreamPush}); err != nil {
				return nil, err
			}
			out = append(out, publisher.NewNatsPublisher(a.nats, bizNotify))
		case "kafka":
			kc := a.cfg.Kafka.NotifyAppConfig()
			topics := kafka.GenTopicsWithPattern(&kc)
			if kc.AutoCreateTopicsOnStart {
				if err := kafka.EnsureTopics(a.kafkaClient, topics, &kc); err != nil {
					return nil, err
				}
			}
			producer, err := kafka.NewSyncProducer(a.kafkaClient)
			if err != nil {
				return nil, err
			}
			a.producer = producer
			out = append(out, publisher.NewKafkaPublisher(producer, topics))
		case "redis":
			out = append(out, publisher.NewRedisPublisher(a.rdb, a.cfg.Counter.RedisChannel))
		case "log":
			out = append(out, publisher.NewLogPublisher(logger.Log))
		default:
			return nil, errs.ErrArgs.WrapMsg("unknown publisher", "name", name)
		}
	}
	if len(out) == 0 {
		out = append(out, publisher.NewLogPublisher(logger.Log))
	}
	a.log.Info("notification publishers", zap.Strings("publishers", a.cfg.Counter.Publishers))
	return out, nil
}

func (a *app) ready(ctx context.Context) error {
	db, ok := mgo.TryGetDB()
	if !ok {
		return errors.New("mongo not ready")
	}
	if err := db.Client().Ping(ctx, nil); err != nil {
		return errs.WrapMsg(err, "mongo ping")
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return errs.WrapMsg(err, "redis ping")
		}
	}
	return nil
}

func (a *app) goConsume(name string, f func() error) {
	a.wg.Add(1)
	safe.SafeGo(func() {
		defer a.wg.Done()
		a.log.Info("event consumer started", zap.String("source", name))
		if err := f(); err != nil {
			a.log.Error("event consumer stopped", zap.String("source", name), zap.Error(err))
		}
	})
}

// run 启动 HTTP、修复任务与事件消费，消费在 ctx 结束时退出
func (a *app) run(ctx context.Context) {
	a.ops.Start()
	if a.repairer != nil {
		a.repairer.Start()
	}

	switch a.cfg.Counter.EventSource {
	case "kafka":
		kc := a.cfg.Kafka.AppConfig
		topics := kafka.GenTopicsWithPattern(&kc)
		if kc.AutoCreateTopicsOnStart {
			if err := kafka.EnsureTopics(a.kafkaClient, topics, &kc); err != nil {
				a.log.Error("ensure event topics failed", zap.Error(err))
			}
		}
		router := kafka.NewRouter()
		router.RegisterDefaultHandlers(topics, a.pipe.KafkaHandler())
		handler := kafka.NewConsumerGroupHandler(router, logger.Log)
		a.goConsume("kafka", func() error {
			return kafka.StartConsumerGroup(ctx, a.kafkaClient, kc.GroupID, topics, handler)
		})
	case "nats":
		nc := a.cfg.Nats
		if err := a.nats.EnsureStream(nc.EventStream, []string{nc.EventSubject}, nc.DedupWindow); err != nil {
			a.log.Error("ensure event stream failed", zap.Error(err))
			return
		}
		route := natsx.NatsxRoute{
			Biz:           bizEvents,
			Subject:       nc.EventSubject,
			Mode:          natsx.JetStreamPull,
			Durable:       nc.EventDurable,
			AckWait:       30 * time.Second,
			MaxAckPending: 1024,
			MaxDeliver:    10,
		}
		if err := a.nats.RegisterRoute(route); err != nil {
			a.log.Error("register event route failed", zap.Error(err))
			return
		}
		a.goConsume("nats", func() error {
			return a.nats.PullConsume(ctx, bizEvents, 64, 2*time.Second, a.pipe.NatsHandler())
		})
	default:
		a.log.Warn("no event source configured", zap.String("source", a.cfg.Counter.EventSource))
	}
}

// close 先停入口，再等在途通知投递完，最后断开下游连接
func (a *app) close(ctx context.Context) {
	if err := a.ops.Shutdown(ctx); err != nil {
		a.log.Warn("ops http shutdown", zap.Error(err))
	}
	if a.repairer != nil {
		a.repairer.Stop()
	}
	a.wg.Wait()
	a.dispatcher.Close()
	a.watcher.Stop()

	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.kafkaClient != nil {
		_ = a.kafkaClient.Close()
	}
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.pgHistory != nil {
		a.pgHistory.Close()
	}
	if a.rdb != nil {
		_ = redisx.CloseRedis()
	}
	a.log.Info("counter worker stopped")
}
