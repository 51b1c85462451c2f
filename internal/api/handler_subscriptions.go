package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"deskhub-backend/internal/model"
)

type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256DH string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// SaveSubscription handles PUT /api/subscriptions. Registering the same
// endpoint twice simply refreshes the stored keys.
func (h *Handler) SaveSubscription(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "endpoint and keys are required"})
		return
	}
	sub := &model.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   userID,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if err := h.store.UpsertSubscription(c.Request.Context(), sub); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteSubscription handles DELETE /api/subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	if _, ok := actingUser(c); !ok {
		return
	}
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListSubscriptions handles GET /api/subscriptions.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	subs, err := h.store.UserSubscriptions(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	endpoints := make([]string, 0, len(subs))
	for _, s := range subs {
		endpoints = append(endpoints, s.Endpoint)
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}
