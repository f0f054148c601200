package server

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/futbot/gofut/internal/store"
)

// 管理面 API：查看工作流/步骤/账本/轮询任务，触发生命周期工作流
// 与 worker 共用同一个 sqlite 库，读写都走同一套 repo

// Config 服务配置
type Config struct {
	Listen string // 监听地址，如 ":8080"
}

// Server 管理面服务
type Server struct {
	cfg   Config
	store *store.Store
}

// New 创建管理面服务
func New(cfg Config, st *store.Store) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return &Server{cfg: cfg, store: st}
}

// Listen 返回监听地址
func (s *Server) Listen() string { return s.cfg.Listen }

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	api := r.Group("/api")

	blocks := api.Group("/blocks")
	blocks.GET("/", s.wrap(s.handleStepsRecent))
	blocks.GET("/:blockUUID", s.wrap(s.handleBlockGet))

	bans := api.Group("/bans")
	bans.GET("/", s.wrap(s.handleBansList))
	bans.DELETE("/", s.wrap(s.handleBanDelete))

	api.GET("/repeaters", s.wrap(s.handleRepeatersList))
	api.GET("/audits", s.wrap(s.handleAuditsList))

	positions := api.Group("/positions")
	positions.GET("/", s.wrap(s.handlePositionsList))
	positions.GET("/:positionID", s.wrap(s.handlePositionGet))

	workflows := api.Group("/workflows")
	workflows.POST("/open", s.wrap(s.handleWorkflowOpen))
	workflows.POST("/close", s.wrap(s.handleWorkflowClose))
	workflows.POST("/cancel", s.wrap(s.handleWorkflowCancel))
	workflows.POST("/apply_wap", s.wrap(s.handleWorkflowApplyWAP))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "gofut_path_params"

// wrap 把 net/http 风格的 handler 接到 gin 上，路径参数塞进 request context
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	if m, ok := r.Context().Value(paramsKey).(map[string]string); ok {
		return m[key]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
