package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/lifecycle"
	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/session"
)

// SessionView is the session state as the client renders it, plus where the client should land.
type SessionView struct {
	User           lifecycle.Identity     `json:"user"`
	Home           string                 `json:"home"`
	CurrentRequest *models.ServiceRequest `json:"current_request"`
	lifecycle.State
}

type loginAsRequest struct {
	Role models.UserRole `json:"role" validate:"required,oneof=customer technician admin"`
}

func viewOf(m *lifecycle.Manager) SessionView {
	st := m.State()
	view := SessionView{
		User:  m.Identity(),
		Home:  session.HomeRoute(st.Role, true),
		State: st,
	}
	if row, ok := m.CurrentRequest(); ok {
		view.CurrentRequest = &row
	}
	return view
}

// @Summary Current session state
// @Tags session
// @Produce json
// @Param X-User-Id header string true "Signed-in user id"
// @Success 200 {object} SessionView
// @Router /api/session [get]
func (h *Handler) GetSession(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Reload durable session keys
// @Tags session
// @Produce json
// @Success 200 {object} SessionView
// @Router /api/session/restore [post]
func (h *Handler) RestoreSession(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.Restore(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to restore session")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Refetch requests and re-derive the session
// @Tags session
// @Produce json
// @Success 200 {object} SessionView
// @Router /api/session/refresh [post]
func (h *Handler) RefreshSession(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.Refresh(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to refresh session")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Reset the session to idle
// @Tags session
// @Produce json
// @Success 200 {object} SessionView
// @Router /api/session/reset [post]
func (h *Handler) ResetSession(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.ResetService(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to reset session")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Sign out and drop local session state
// @Tags session
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/session/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	if h.Drafts != nil {
		h.Drafts.Discard(id.ID)
	}
	if err := h.Sessions.Logout(c.Request.Context(), id.ID); err != nil {
		h.fail(c, err, "Failed to sign out")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "home": session.HomeRoute("", false)})
}

// @Summary Switch the session role
// @Tags session
// @Accept json
// @Produce json
// @Param body body loginAsRequest true "role"
// @Success 200 {object} SessionView
// @Router /api/session/login-as [post]
func (h *Handler) LoginAs(c *gin.Context) {
	var req loginAsRequest
	if !h.bind(c, &req) {
		return
	}
	m, ok := h.session(c)
	if !ok {
		return
	}
	if err := m.LoginAs(c.Request.Context(), req.Role); err != nil {
		h.fail(c, err, "Failed to switch role")
		return
	}
	c.JSON(http.StatusOK, viewOf(m))
}

// @Summary Acknowledge a status change flag
// @Tags session
// @Param flag path string true "flag, e.g. accepted_<id>"
// @Success 204
// @Failure 404 {object} map[string]any
// @Router /api/session/flags/{flag} [delete]
func (h *Handler) ClearFlag(c *gin.Context) {
	m, ok := h.session(c)
	if !ok {
		return
	}
	if !m.ClearStatusChangeFlag(c.Param("flag")) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Flag not set", c.Param("flag"))
		return
	}
	c.Status(http.StatusNoContent)
}
