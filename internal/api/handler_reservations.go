package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"deskhub-backend/internal/model"
)

type reservationResponse struct {
	ID          int64                   `json:"id"`
	DeskID      int64                   `json:"desk_id"`
	DeskName    string                  `json:"desk_name,omitempty"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	Status      model.ReservationStatus `json:"status"`
	CheckedInAt *time.Time              `json:"checked_in_at,omitempty"`
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:          r.ID,
		DeskID:      r.DeskID,
		DeskName:    r.Desk.Name,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      r.Status,
		CheckedInAt: r.CheckedInAt,
	}
}

type createReservationRequest struct {
	DeskID    int64     `json:"desk_id" binding:"required"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "desk_id, start_time and end_time are required"})
		return
	}
	res, err := h.coord.CreateReservation(c.Request.Context(), userID, req.DeskID, req.StartTime, req.EndTime)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReservationResponse(res))
}

// ListReservations handles GET /api/reservations?date=YYYY-MM-DD.
func (h *Handler) ListReservations(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	var date *time.Time
	if raw := c.Query("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		date = &d
	}
	reservations, err := h.store.ListUserReservations(c.Request.Context(), userID, date)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]reservationResponse, 0, len(reservations))
	for i := range reservations {
		out = append(out, toReservationResponse(&reservations[i]))
	}
	c.JSON(http.StatusOK, out)
}

// CheckIn handles POST /api/reservations/:reservation_id/check_in.
func (h *Handler) CheckIn(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	reservationID, ok := pathID(c, "reservation_id")
	if !ok {
		return
	}
	res, err := h.coord.CheckIn(c.Request.Context(), reservationID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reservation": toReservationResponse(res)})
}

// CheckOut handles POST /api/reservations/:reservation_id/check_out.
func (h *Handler) CheckOut(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	reservationID, ok := pathID(c, "reservation_id")
	if !ok {
		return
	}
	res, err := h.coord.CheckOut(c.Request.Context(), reservationID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reservation": toReservationResponse(res)})
}

// CancelReservation handles POST /api/reservations/:reservation_id/cancel.
func (h *Handler) CancelReservation(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	reservationID, ok := pathID(c, "reservation_id")
	if !ok {
		return
	}
	if err := h.coord.CancelReservation(c.Request.Context(), reservationID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
