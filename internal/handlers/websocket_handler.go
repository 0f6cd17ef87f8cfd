package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"match-service/internal/game"
	"match-service/internal/middleware"
	"match-service/internal/repository"
	"match-service/internal/usercache"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins in prod
	},
}

type WebSocketHandler struct {
	hub     *game.Hub
	matches *repository.MatchRepository
	users   *usercache.Cache
}

func NewWebSocketHandler(hub *game.Hub, matches *repository.MatchRepository, users *usercache.Cache) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		matches: matches,
		users:   users,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	fid := middleware.FID(c)
	if fid == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	matchID := c.Query("match_id")
	if matchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing match_id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	match, err := h.matches.GetMatch(ctx, matchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
		return
	}
	if !match.HasPlayer(fid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this match"})
		return
	}

	username := ""
	if user, err := h.users.Get(ctx, fid); err == nil {
		username = user.Username
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := game.NewClient(h.hub, conn, fid, username, matchID)

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
