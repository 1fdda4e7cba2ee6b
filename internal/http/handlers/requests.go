package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/lifecycle"
	"github.com/safevisit/backend/internal/models"
)

type createRequestBody struct {
	// TechnicianName is the technician picked on the matching screen. Optional.
	TechnicianName string `json:"technician_name"`
	// Draft overrides the stored draft when present.
	Draft *models.ServiceDraft `json:"draft"`
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

// EmergencyResponse carries the raised session even when the alert could not be stored;
// Error is set in that case.
type EmergencyResponse struct {
	Alert   *models.EmergencyAlert `json:"alert"`
	Session SessionView            `json:"session"`
	Error   string                 `json:"error,omitempty"`
}

// @Summary Save the request draft
// @Tags requests
// @Accept json
// @Produce json
// @Param body body models.ServiceDraft true "draft"
// @Success 201 {object} models.ServiceDraft
// @Router /api/drafts [post]
func (h *Handler) SaveDraft(c *gin.Context) {
	var draft models.ServiceDraft
	if !h.bind(c, &draft) {
		return
	}
	id, _ := middleware.IdentityFrom(c)
	h.Drafts.Put(id.ID, draft)
	c.JSON(http.StatusCreated, draft)
}

// @Summary Submit a service request
// @Description Consumes the saved draft (or the inline one) and creates a pending request.
// @Tags requests
// @Accept json
// @Produce json
// @Param body body createRequestBody false "technician choice"
// @Success 201 {object} models.ServiceRequest
// @Failure 409 {object} map[string]any
// @Router /api/requests [post]
func (h *Handler) CreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return
	}
	m, ok := h.session(c)
	if !ok {
		return
	}
	id := m.Identity()

	var draft models.ServiceDraft
	stored := false
	if body.Draft != nil {
		if err := h.Validator.Struct(body.Draft); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed", err.Error())
			return
		}
		draft = *body.Draft
	} else if draft, stored = h.Drafts.Take(id.ID); !stored {
		writeError(c, http.StatusConflict, "NO_DRAFT", "No request draft to submit", nil)
		return
	}

	created, err := m.RequestService(c.Request.Context(), draft, body.TechnicianName)
	if err != nil {
		if stored {
			h.Drafts.Put(id.ID, draft)
		}
		h.fail(c, err, "Failed to create service request")
		return
	}
	if !stored {
		h.Drafts.Discard(id.ID)
	}
	c.JSON(http.StatusCreated, created)
}

// @Summary Requests visible to the caller
// @Tags requests
// @Produce json
// @Param refresh query bool false "refetch before answering"
// @Success 200 {array} models.ServiceRequest
// @Router /api/requests [get]
func (h *Handler) ListRequests(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "true" {
		if err := m.Refresh(c.Request.Context()); err != nil {
			h.fail(c, err, "Failed to load service requests")
			return
		}
	}
	rows := m.State().ServiceRequests
	if rows == nil {
		rows = []models.ServiceRequest{}
	}
	c.JSON(http.StatusOK, rows)
}

// @Summary Accept a pending request
// @Tags requests
// @Produce json
// @Param id path string true "request id"
// @Success 200 {object} SessionView
// @Failure 403 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/requests/{id}/accept [post]
func (h *Handler) AcceptRequest(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.AcceptServiceRequest(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "Failed to accept request")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Reject a pending request
// @Tags requests
// @Produce json
// @Param id path string true "request id"
// @Success 200 {object} SessionView
// @Router /api/requests/{id}/reject [post]
func (h *Handler) RejectRequest(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.RejectServiceRequest(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "Failed to reject request")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Start monitoring the accepted request
// @Tags monitoring
// @Produce json
// @Success 200 {object} SessionView
// @Router /api/monitoring/start [post]
func (h *Handler) StartMonitoring(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.StartMonitoring(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to start monitoring")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Complete the monitored request
// @Tags monitoring
// @Produce json
// @Success 200 {object} SessionView
// @Router /api/monitoring/end [post]
func (h *Handler) EndMonitoring(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.EndMonitoring(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to end monitoring")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Raise an emergency
// @Description The flag is raised even when the alert cannot be stored; the response then has a null
// @Description alert and an error message.
// @Tags monitoring
// @Produce json
// @Success 200 {object} EmergencyResponse
// @Router /api/emergency [post]
func (h *Handler) TriggerEmergency(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	alert, err := m.TriggerEmergency(c.Request.Context())
	if errors.Is(err, lifecycle.ErrClosed) {
		h.fail(c, err, "Failed to raise emergency")
		return
	}
	resp := EmergencyResponse{Alert: alert, Session: viewOf(m)}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Review a completed request
// @Tags requests
// @Accept json
// @Produce json
// @Param id path string true "request id"
// @Param body body reviewRequest true "review"
// @Success 201 {object} models.ServiceReview
// @Failure 409 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/requests/{id}/review [post]
func (h *Handler) ReviewRequest(c *gin.Context) {
	var req reviewRequest
	if !h.bind(c, &req) {
		return
	}
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	review, err := h.Store.CreateReview(ctx, models.ServiceReview{
		ServiceRequestID: c.Param("id"),
		CustomerID:       id.ID,
		Rating:           req.Rating,
		Comment:          req.Comment,
	})
	if err != nil {
		h.fail(c, err, "Failed to save review")
		return
	}
	c.JSON(http.StatusCreated, review)
}

// @Summary Emergency alerts raised for a request
// @Tags monitoring
// @Produce json
// @Param id path string true "request id"
// @Success 200 {array} models.EmergencyAlert
// @Failure 404 {object} map[string]any
// @Router /api/requests/{id}/alerts [get]
func (h *Handler) ListAlerts(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	req, err := h.Store.GetServiceRequest(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err, "Failed to load service request")
		return
	}
	if !req.Involves(id.ID) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Service request not found", nil)
		return
	}
	alerts, err := h.Store.ListEmergencyAlerts(ctx, req.ID)
	if err != nil {
		h.fail(c, err, "Failed to load emergency alerts")
		return
	}
	if alerts == nil {
		alerts = []models.EmergencyAlert{}
	}
	c.JSON(http.StatusOK, alerts)
}
