package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polarsystems/polarmanager/internal/event"
	"github.com/polarsystems/polarmanager/internal/manager"
	"github.com/polarsystems/polarmanager/internal/metrics"
)

// Router exposes the operator control surface over HTTP.
// Endpoints:
//
//	GET  /v1/status        fleet snapshot
//	POST /v1/start         body: {"server_id": ..., "reason": ...}
//	POST /v1/stop          body: {"server_id": ..., "reason": ...}
//	POST /v1/restart       body: {"server_id": ..., "reason": ...}
//	POST /v1/plugin/event  body: {"type": ..., "server_id": ..., "data": ...}
//	GET  /metrics          Prometheus metrics
//
// The plugin endpoint injects externally-originated events onto the bus and
// is guarded by a shared secret when one is configured.
type Router struct {
	sup    *manager.Supervisor
	secret string
}

func NewRouter(sup *manager.Supervisor, sharedSecret string) *Router {
	return &Router{sup: sup, secret: sharedSecret}
}

// Handler returns an http.Handler that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	v1 := g.Group("/v1")
	v1.GET("/status", r.handleStatus)
	v1.POST("/start", r.action("start"))
	v1.POST("/stop", r.action("stop"))
	v1.POST("/restart", r.action("restart"))
	v1.POST("/plugin/event", r.handlePluginEvent)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, sup *manager.Supervisor, sharedSecret string) *http.Server {
	r := NewRouter(sup, sharedSecret)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type actionReq struct {
	ServerID string `json:"server_id"`
	Reason   string `json:"reason"`
}

type pluginEventReq struct {
	ServerID string         `json:"server_id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Snapshot())
}

func (r *Router) action(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
		if req.ServerID == "" {
			c.JSON(http.StatusBadRequest, errorResp{Error: "server_id required"})
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "api"
		}
		act, err := manager.ParseAction(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		if err := r.sup.DoAction(req.ServerID, act, reason); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, manager.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, errorResp{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handlePluginEvent(c *gin.Context) {
	if r.secret != "" {
		got := c.GetHeader("X-Polar-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(r.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, errorResp{Error: "bad secret"})
			return
		}
	}
	var req pluginEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "type required"})
		return
	}
	r.sup.Bus().Publish(event.New(req.Type, req.ServerID, req.Data))
	metrics.IncEvent(req.Type)
	c.JSON(http.StatusOK, okResp{OK: true})
}
