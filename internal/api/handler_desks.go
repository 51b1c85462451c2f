package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"deskhub-backend/internal/model"
)

// deskResponse is the flattened desk representation for the API.
type deskResponse struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Location      string           `json:"location"`
	Status        model.DeskStatus `json:"status"`
	CurrentHeight float64          `json:"current_height"`
	MinHeight     float64          `json:"min_height"`
	MaxHeight     float64          `json:"max_height"`
	CurrentUser   *string          `json:"current_user"`
	HasDevice     bool             `json:"has_device"`
}

func toDeskResponse(d *model.Desk) deskResponse {
	resp := deskResponse{
		ID:            d.ID,
		Name:          d.Name,
		Location:      d.Location,
		Status:        d.Status,
		CurrentHeight: d.CurrentHeight,
		MinHeight:     d.MinHeight,
		MaxHeight:     d.MaxHeight,
		HasDevice:     d.Device != nil,
	}
	if d.CurrentUser != nil {
		name := d.CurrentUser.DisplayName()
		resp.CurrentUser = &name
	}
	return resp
}

// ListDesks handles GET /api/desks.
func (h *Handler) ListDesks(c *gin.Context) {
	desks, err := h.store.ListDesks(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]deskResponse, 0, len(desks))
	for i := range desks {
		out = append(out, toDeskResponse(&desks[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetDesk handles GET /api/desks/:desk_id.
func (h *Handler) GetDesk(c *gin.Context) {
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	desk, err := h.store.GetDesk(c.Request.Context(), deskID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDeskResponse(desk))
}

// AvailableDesks handles GET /api/desks/available?date=&start_time=&end_time=.
func (h *Handler) AvailableDesks(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date is required (YYYY-MM-DD)"})
		return
	}
	startStr := c.DefaultQuery("start_time", "00:00")
	endStr := c.DefaultQuery("end_time", "23:59")

	start, err := time.Parse("2006-01-02 15:04", date+" "+startStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid date or start_time"})
		return
	}
	end, err := time.Parse("2006-01-02 15:04", date+" "+endStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid end_time"})
		return
	}
	if !start.Before(end) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "start_time must be before end_time"})
		return
	}

	desks, err := h.store.AvailableDesks(c.Request.Context(), start, end)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]deskResponse, 0, len(desks))
	for i := range desks {
		out = append(out, toDeskResponse(&desks[i]))
	}
	c.JSON(http.StatusOK, out)
}

// StartHotDesk handles POST /api/desks/:desk_id/hotdesk/start.
func (h *Handler) StartHotDesk(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	desk, err := h.coord.StartClaim(c.Request.Context(), deskID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "desk": toDeskResponse(desk)})
}

// ConfirmHotDesk handles POST /api/desks/:desk_id/hotdesk/confirm, the
// explicit confirmation path for desks whose device cannot be reached.
func (h *Handler) ConfirmHotDesk(c *gin.Context) {
	if _, ok := actingUser(c); !ok {
		return
	}
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	desk, err := h.coord.ConfirmClaim(c.Request.Context(), deskID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "desk": toDeskResponse(desk)})
}

// CancelHotDesk handles POST /api/desks/:desk_id/hotdesk/cancel.
func (h *Handler) CancelHotDesk(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	if err := h.coord.CancelPendingClaim(c.Request.Context(), deskID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// EndHotDesk handles POST /api/desks/:desk_id/hotdesk/end.
func (h *Handler) EndHotDesk(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	if err := h.coord.EndClaim(c.Request.Context(), deskID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type controlRequest struct {
	Height float64 `json:"height" binding:"required"`
}

// ControlDesk handles POST /api/desks/:desk_id/control.
func (h *Handler) ControlDesk(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "height is required"})
		return
	}
	desk, err := h.coord.SetHeight(c.Request.Context(), deskID, userID, req.Height)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "desk": toDeskResponse(desk)})
}

// PollMovement handles GET /api/desks/:desk_id/movement.
func (h *Handler) PollMovement(c *gin.Context) {
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	mv, err := h.coord.PollMovement(c.Request.Context(), deskID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, mv)
}

// DeskUsage handles GET /api/desks/:desk_id/usage.
func (h *Handler) DeskUsage(c *gin.Context) {
	deskID, ok := pathID(c, "desk_id")
	if !ok {
		return
	}
	usage, err := h.coord.DeskUsage(c.Request.Context(), deskID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
