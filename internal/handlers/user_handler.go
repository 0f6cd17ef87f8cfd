package handlers

import (
	"database/sql"
	"log"
	"net/http"

	"match-service/internal/middleware"
	"match-service/internal/models"
	"match-service/internal/repository"
	"match-service/internal/usercache"

	"github.com/gin-gonic/gin"
)

// UserHandler keeps the locally mirrored player references current.
// Profiles are owned by the identity subsystem; callers push their own
// display data through here after a change.
type UserHandler struct {
	users *repository.UserRepository
	cache *usercache.Cache
}

func NewUserHandler(users *repository.UserRepository, cache *usercache.Cache) *UserHandler {
	return &UserHandler{users: users, cache: cache}
}

type updateProfileRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
	Badge       string `json:"badge"`
}

// UpdateProfile upserts the caller's mirrored profile and drops the cached
// copy so the next lookup sees the new display data.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	fid := middleware.FID(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user := &models.User{
		FID:         fid,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		PfpURL:      req.PfpURL,
	}
	if req.Badge != "" {
		user.Badge = sql.NullString{String: req.Badge, Valid: true}
	}

	if err := h.users.UpsertUser(c.Request.Context(), user); err != nil {
		log.Printf("Failed to upsert profile for player %d: %v", fid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}
	h.cache.Invalidate(fid)

	c.JSON(http.StatusOK, gin.H{
		"fid":          fid,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"pfp_url":      user.PfpURL,
		"badge":        req.Badge,
	})
}
