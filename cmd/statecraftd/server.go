package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"statecraft/internal/config"
	"statecraft/internal/fsm"
	"statecraft/internal/manager"
	"statecraft/internal/metrics"
	"statecraft/internal/pubsub"
	"statecraft/internal/xerr"
)

// server bundles the Manager and its HTTP surface — the thin admin JSON
// API plus the WebSocket bridge, grounded on the teacher's setupRoutes
// split between a public group and a feature-scoped group, minus auth
// (no tenant-membership CRUD is implemented, per Non-goals).
type server struct {
	router *gin.Engine
	mgr    *manager.Manager
	ckpt   *fsm.Checkpointer
	hub    *wsHub
}

func newServer(cfg *config.Config, mgr *manager.Manager, ckpt *fsm.Checkpointer, bus pubsub.Bus) *server {
	s := &server{
		mgr:  mgr,
		ckpt: ckpt,
		hub:  newWSHub(bus),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.MetricsEnabled {
		r.Use(metrics.PrometheusMiddleware())
		r.GET("/metrics", metrics.PrometheusHandler())
	}

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/kinds", s.listKinds)
		v1.POST("/fsms", s.createFSM)
		v1.GET("/fsms", s.listTenantFSMs)
		v1.GET("/fsms/:id", s.getFSM)
		v1.DELETE("/fsms/:id", s.destroyFSM)
		v1.POST("/fsms/:id/events", s.sendEvent)
		v1.POST("/fsms/batch_events", s.batchSendEvents)
		v1.GET("/fsms/:id/metrics", s.getFSMMetrics)
		v1.POST("/fsms/:id/checkpoints", s.createCheckpoint)
		v1.POST("/fsms/:id/checkpoints/:checkpoint_id/restore", s.restoreCheckpoint)
		v1.POST("/fsms/:id/subscribers", s.addSubscriber)
		v1.DELETE("/fsms/:id/subscribers/:subscriber_id", s.removeSubscriber)
		v1.GET("/stats", s.getStats)
	}

	r.GET("/ws", s.serveWS)

	s.router = r
	return s
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "statecraftd"})
}

func (s *server) listKinds(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.Discovery.List())
}

type createFSMRequest struct {
	Kind         string         `json:"kind" binding:"required"`
	TenantID     string         `json:"tenant_id"`
	InitialData  map[string]any `json:"initial_data"`
}

func (s *server) createFSM(c *gin.Context) {
	var req createFSMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.mgr.CreateFSM(req.Kind, req.InitialData, req.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *server) listTenantFSMs(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	instances := s.mgr.GetTenantFSMs(tenantID)
	out := make([]gin.H, 0, len(instances))
	for _, i := range instances {
		out = append(out, instanceView(i))
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) getFSM(c *gin.Context) {
	id := c.Param("id")
	inst, ok := s.mgr.Registry.Get(id)
	if !ok {
		writeError(c, xerr.New(xerr.NotFound, id))
		return
	}
	c.JSON(http.StatusOK, instanceView(inst))
}

func (s *server) destroyFSM(c *gin.Context) {
	id := c.Param("id")
	if err := s.mgr.DestroyFSM(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendEventRequest struct {
	Event     string         `json:"event" binding:"required"`
	EventData map[string]any `json:"event_data"`
}

func (s *server) sendEvent(c *gin.Context) {
	id := c.Param("id")
	var req sendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := s.mgr.SendEvent(id, fsm.Event(req.Event), req.EventData)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, instanceView(inst))
}

type batchEventRequest struct {
	ID        string         `json:"id" binding:"required"`
	Event     string         `json:"event" binding:"required"`
	EventData map[string]any `json:"event_data"`
}

func (s *server) batchSendEvents(c *gin.Context) {
	var reqs []batchEventRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	batch := make([]manager.BatchEvent, 0, len(reqs))
	for _, r := range reqs {
		batch = append(batch, manager.BatchEvent{ID: r.ID, Event: fsm.Event(r.Event), EventData: r.EventData})
	}
	results := s.mgr.BatchSendEvents(batch)

	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			out = append(out, gin.H{"id": r.ID, "error": r.Err.Error()})
			continue
		}
		out = append(out, gin.H{"id": r.ID, "result": instanceView(r.Instance)})
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) getFSMMetrics(c *gin.Context) {
	id := c.Param("id")
	perf, err := s.mgr.GetFSMMetrics(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

type checkpointRequest struct {
	Description string `json:"description"`
}

func (s *server) createCheckpoint(c *gin.Context) {
	id := c.Param("id")
	inst, ok := s.mgr.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "fsm not found"})
		return
	}
	var req checkpointRequest
	_ = c.ShouldBindJSON(&req)

	cpID, err := s.ckpt.Checkpoint(c.Request.Context(), inst, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"checkpoint_id": cpID})
}

func (s *server) restoreCheckpoint(c *gin.Context) {
	id := c.Param("id")
	inst, ok := s.mgr.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "fsm not found"})
		return
	}
	if err := s.ckpt.Restore(c.Request.Context(), inst, c.Param("checkpoint_id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.mgr.Registry.Update(id, inst)
	c.JSON(http.StatusOK, instanceView(inst))
}

type subscriberRequest struct {
	SubscriberID string `json:"subscriber_id" binding:"required"`
}

func (s *server) addSubscriber(c *gin.Context) {
	id := c.Param("id")
	var req subscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.mgr.Subscribe(id, req.SubscriberID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) removeSubscriber(c *gin.Context) {
	id := c.Param("id")
	if err := s.mgr.Unsubscribe(id, c.Param("subscriber_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.GetStats())
}

func instanceView(i *fsm.Instance) gin.H {
	return gin.H{
		"id":          i.ID,
		"kind":        i.Kind.Name,
		"tenant_id":   i.TenantID,
		"state":       i.CurrentState(),
		"data":        i.Snapshot(),
		"metadata":    i.Metadata,
		"performance": i.Performance,
		"subscribers": i.Subscribers(),
	}
}

func writeError(c *gin.Context, err error) {
	tag := xerr.TagOf(err)
	status := http.StatusBadRequest
	if tag == xerr.NotFound || tag == xerr.UnknownModule {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error(), "tag": string(tag)})
}
