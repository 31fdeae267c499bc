package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/herd/internal/cluster"
	"github.com/loykin/herd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router provides embeddable HTTP handlers for observing a running cluster.
// Endpoints:
//   GET {basePath}/status              all instance statuses
//   GET {basePath}/status?node=...     statuses for one node's replicas
//   GET {basePath}/events?instance=... persisted transitions (requires a store)
//   GET {basePath}/healthz             liveness of the orchestrator itself
//   GET {basePath}/metrics             prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	ctl      *cluster.Controller
	st       store.Store
	reg      *prometheus.Registry
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// st and reg may be nil; the corresponding endpoints return 404.
func NewRouter(ctl *cluster.Controller, st store.Store, reg *prometheus.Registry, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{ctl: ctl, st: st, reg: reg, basePath: bp}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	if r.st != nil {
		group.GET("/events", r.handleEvents)
	}
	if r.reg != nil {
		group.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctl *cluster.Controller, st store.Store, reg *prometheus.Registry) (*http.Server, error) {
	r := NewRouter(ctl, st, reg, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	node := c.Query("node")
	if node != "" {
		if !isSafeName(node) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid node name"})
			return
		}
		writeJSON(c, http.StatusOK, r.ctl.NodeStatus(node))
		return
	}
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleEvents(c *gin.Context) {
	instance := c.Query("instance")
	node := c.Query("node")
	if (instance == "") == (node == "") {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "exactly one of instance, node query param required"})
		return
	}
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	var (
		recs []store.Record
		err  error
	)
	if instance != "" {
		recs, err = r.st.GetByInstance(c.Request.Context(), instance, limit)
	} else {
		recs, err = r.st.GetByNode(c.Request.Context(), node, limit)
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}
