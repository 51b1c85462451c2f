package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"deskhub-backend/config"
	"deskhub-backend/internal/mw"
	"deskhub-backend/internal/occupancy"
	"deskhub-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, coord *occupancy.Coordinator, srvCfg *config.ServerConfig, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	handler := NewHandler(s, coord)

	rateLimiter := mw.RateLimiter(rate.Limit(srvCfg.RateLimitPerSec), srvCfg.RateLimitBurst)

	// Cache: availability queries are the only read-heavy endpoint whose
	// answer tolerates a short delay.
	cacheTTL := time.Duration(srvCfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/desks", handler.ListDesks)
		api.GET("/desks/available", caching, handler.AvailableDesks)
		api.GET("/desks/:desk_id", handler.GetDesk)
		api.GET("/desks/:desk_id/movement", handler.PollMovement)
		api.GET("/desks/:desk_id/usage", handler.DeskUsage)

		api.POST("/desks/:desk_id/hotdesk/start", handler.StartHotDesk)
		api.POST("/desks/:desk_id/hotdesk/confirm", handler.ConfirmHotDesk)
		api.POST("/desks/:desk_id/hotdesk/cancel", handler.CancelHotDesk)
		api.POST("/desks/:desk_id/hotdesk/end", handler.EndHotDesk)
		api.POST("/desks/:desk_id/control", handler.ControlDesk)

		api.POST("/reservations", handler.CreateReservation)
		api.GET("/reservations", handler.ListReservations)
		api.POST("/reservations/:reservation_id/check_in", handler.CheckIn)
		api.POST("/reservations/:reservation_id/check_out", handler.CheckOut)
		api.POST("/reservations/:reservation_id/cancel", handler.CancelReservation)

		api.GET("/subscriptions", handler.ListSubscriptions)
		api.PUT("/subscriptions", handler.SaveSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
