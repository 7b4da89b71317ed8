// Package ops 运维 HTTP 接口：健康检查、prometheus 指标、账本查询与手动重算
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"PCounter/logger"
	"PCounter/middleware"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"
	"PCounter/tools/ids"
	"PCounter/tools/security"
	"PCounter/tools/specialerror"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HistoryReader interface {
	GetCounterHistory(ctx context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error)
}

type StatsReader interface {
	GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error)
	GetPackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error)
}

type Recalculator interface {
	RecalculateUserStats(ctx context.Context, tenantID, userID string, src model.Source) (*model.UserStats, error)
	RecalculatePackStats(ctx context.Context, tenantID, packID string, src model.Source) (*model.PackStats, error)
	RecalculateUserPackStats(ctx context.Context, tenantID, packID, userID string, src model.Source) (int64, error)
}

type Finalizer interface {
	FinalizeUsers(ctx context.Context, tenantID string, userIDs []string, eventID string) []*model.Notification
}

// Deps Finalizer / ConfigView 可为空
type Deps struct {
	History    HistoryReader
	Stats      StatsReader
	Recalc     Recalculator
	Finalizer  Finalizer
	Ready      func(ctx context.Context) error
	ConfigView func() any
	Auth       *middleware.AuthOptions
}

type handler struct {
	Deps
	log *zap.Logger
}

// NewRouter Auth 为空时 /debug 不鉴权，只应在内网使用
func NewRouter(d Deps, log *zap.Logger) *gin.Engine {
	log = logger.Or(log).Named("ops")
	h := &handler{Deps: d, log: log}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.AccessLog(log, "/healthz", "/metrics"))

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	debug := middleware.NewRoutes(r.Group("/debug"), d.Auth)
	read := middleware.RouteOpt{IsAuth: true}
	write := middleware.RouteOpt{IsAuth: true, Scope: security.ScopeOps}
	debug.GET("/history", h.history, read)
	debug.GET("/stats/user/:user", h.userStats, read)
	debug.GET("/stats/pack/:pack", h.packStats, read)
	debug.POST("/recalculate", h.recalculate, write)
	if d.ConfigView != nil {
		debug.GET("/config", func(c *gin.Context) { c.JSON(http.StatusOK, d.ConfigView()) }, read)
	}
	return r
}

func (h *handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	code := specialerror.ErrCode(err)
	c.AbortWithStatusJSON(specialerror.HTTPStatus(err), gin.H{"code": code.Code, "msg": code.Msg, "detail": err.Error()})
}

func (h *handler) health(c *gin.Context) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func tenantOf(c *gin.Context) (string, error) {
	tenant := c.Query("tenantId")
	if tenant == "" {
		return "", errs.ErrArgs.WrapMsg("tenantId required")
	}
	return tenant, nil
}

func (h *handler) history(c *gin.Context) {
	tenant, err := tenantOf(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var f model.HistoryFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		h.fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			h.fail(c, errs.ErrArgs.WrapMsg("bad limit", "limit", s))
			return
		}
	}
	entries, err := h.History.GetCounterHistory(c.Request.Context(), tenant, f, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *handler) userStats(c *gin.Context) {
	tenant, err := tenantOf(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	us, err := h.Stats.GetUserStats(c.Request.Context(), tenant, c.Param("user"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, us)
}

func (h *handler) packStats(c *gin.Context) {
	tenant, err := tenantOf(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	ps, err := h.Stats.GetPackStats(c.Request.Context(), tenant, c.Param("pack"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// RecalculateRequest Kind 取 user | pack | userPack
type RecalculateRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=user pack userPack"`
	UserID   string `json:"userId"`
	PackID   string `json:"packId"`
}

func (h *handler) recalculate(c *gin.Context) {
	var req RecalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	src := model.Source{EventType: model.EventManual, EventID: ids.NewEventID("manual"), ActorType: model.ActorOperator}
	if v, ok := c.Get(middleware.CtxClaimsKey); ok {
		src.ActorID = v.(*security.Claims).Subject
	}

	ctx := c.Request.Context()
	var (
		result any
		err    error
		users  []string
	)
	switch req.Kind {
	case "user":
		if req.UserID == "" {
			err = errs.ErrArgs.WrapMsg("userId required")
			break
		}
		result, err = h.Recalc.RecalculateUserStats(ctx, req.TenantID, req.UserID, src)
		users = []string{req.UserID}
	case "pack":
		if req.PackID == "" {
			err = errs.ErrArgs.WrapMsg("packId required")
			break
		}
		result, err = h.Recalc.RecalculatePackStats(ctx, req.TenantID, req.PackID, src)
	case "userPack":
		if req.PackID == "" || req.UserID == "" {
			err = errs.ErrArgs.WrapMsg("packId and userId required")
			break
		}
		var v int64
		v, err = h.Recalc.RecalculateUserPackStats(ctx, req.TenantID, req.PackID, req.UserID, src)
		result = gin.H{"unreadCount": v}
		users = []string{req.UserID}
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("manual recalculate", zap.String("tenant", req.TenantID), zap.String("kind", req.Kind),
		zap.String("user", req.UserID), zap.String("pack", req.PackID), zap.String("actor", src.ActorID))

	notified := 0
	if h.Finalizer != nil && len(users) > 0 {
		notified = len(h.Finalizer.FinalizeUsers(ctx, req.TenantID, users, src.EventID))
	}
	c.JSON(http.StatusOK, gin.H{"eventId": src.EventID, "result": result, "notified": notified})
}

// Server 包一层 http.Server，Shutdown 时等待进行中的请求
type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(addr string, h http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: logger.Or(log).Named("ops"),
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("ops http listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops http server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
