package handlers

import (
	"net/http"
	"time"

	"match-service/internal/matchmaking"
	"match-service/internal/middleware"
	"match-service/internal/usercache"

	"github.com/gin-gonic/gin"
)

type MatchmakingHandler struct {
	queue           *matchmaking.Queue
	service         *matchmaking.Service
	users           *usercache.Cache
	processInterval time.Duration
}

func NewMatchmakingHandler(queue *matchmaking.Queue, service *matchmaking.Service,
	users *usercache.Cache, processInterval time.Duration) *MatchmakingHandler {
	return &MatchmakingHandler{
		queue:           queue,
		service:         service,
		users:           users,
		processInterval: processInterval,
	}
}

type joinQueueRequest struct {
	Topic string `json:"topic" binding:"required"`
	Skill int    `json:"skill"`
}

func (h *MatchmakingHandler) Join(c *gin.Context) {
	fid := middleware.FID(c)

	var req joinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	username := ""
	if user, err := h.users.Get(c.Request.Context(), fid); err == nil {
		username = user.Username
	}

	position := h.queue.Join(req.Topic, fid, username, req.Skill)

	c.JSON(http.StatusOK, gin.H{
		"topic":      req.Topic,
		"position":   position,
		"queue_size": h.queue.Size(req.Topic),
	})
}

type leaveQueueRequest struct {
	Topic string `json:"topic" binding:"required"`
}

func (h *MatchmakingHandler) Leave(c *gin.Context) {
	fid := middleware.FID(c)

	var req leaveQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	removed := h.queue.Leave(req.Topic, fid)

	c.JSON(http.StatusOK, gin.H{
		"topic":   req.Topic,
		"removed": removed,
	})
}

func (h *MatchmakingHandler) Status(c *gin.Context) {
	fid := middleware.FID(c)
	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing topic"})
		return
	}

	position := h.queue.Position(topic, fid)
	size := h.queue.Size(topic)

	// rough estimate: one pairing pass matches the two oldest entries
	estimated := time.Duration(0)
	if position > 0 {
		passes := (position + 1) / 2
		estimated = time.Duration(passes) * h.processInterval
	}

	c.JSON(http.StatusOK, gin.H{
		"topic":                  topic,
		"position":               position,
		"queue_size":             size,
		"in_queue":               position > 0,
		"estimated_wait_seconds": int(estimated / time.Second),
	})
}

// Process runs one pairing pass on demand. The same pass also runs on the
// scheduler; this endpoint exists for internal tooling.
func (h *MatchmakingHandler) Process(c *gin.Context) {
	created := h.service.Process(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"matches_created": created})
}
