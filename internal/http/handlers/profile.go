package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/models"
)

type createPartnerRequest struct {
	Name         string  `json:"name" validate:"required,max=100"`
	PhoneNumber  string  `json:"phone_number" validate:"required,max=20"`
	Relationship *string `json:"relationship" validate:"omitempty,max=50"`
	IsPrimary    bool    `json:"is_primary"`
}

// @Summary Caller's profile
// @Tags profile
// @Produce json
// @Success 200 {object} models.Profile
// @Router /api/profile [get]
func (h *Handler) GetProfile(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	p, err := h.Store.GetProfile(ctx, id.ID)
	if errors.Is(err, db.ErrNotFound) {
		// not created yet; answer with what the auth proxy told us
		p = models.Profile{UserID: id.ID}
		if id.DisplayName != "" {
			name := id.DisplayName
			p.DisplayName = &name
		}
		c.JSON(http.StatusOK, p)
		return
	}
	if err != nil {
		h.fail(c, err, "Failed to load profile")
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Update the caller's profile
// @Tags profile
// @Accept json
// @Produce json
// @Param body body models.ProfileUpdate true "fields to change"
// @Success 200 {object} models.Profile
// @Router /api/profile [put]
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req models.ProfileUpdate
	if !h.bind(c, &req) {
		return
	}
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	p, err := h.Store.UpdateProfile(ctx, id.ID, req)
	if err != nil {
		h.fail(c, err, "Failed to update profile")
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Caller's safety partners
// @Tags safety-partners
// @Produce json
// @Success 200 {array} models.SafetyPartner
// @Router /api/safety-partners [get]
func (h *Handler) ListSafetyPartners(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	partners, err := h.Store.ListSafetyPartners(ctx, id.ID)
	if err != nil {
		h.fail(c, err, "Failed to load safety partners")
		return
	}
	if partners == nil {
		partners = []models.SafetyPartner{}
	}
	c.JSON(http.StatusOK, partners)
}

// @Summary Add a safety partner
// @Tags safety-partners
// @Accept json
// @Produce json
// @Param body body createPartnerRequest true "partner"
// @Success 201 {object} models.SafetyPartner
// @Router /api/safety-partners [post]
func (h *Handler) CreateSafetyPartner(c *gin.Context) {
	var req createPartnerRequest
	if !h.bind(c, &req) {
		return
	}
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	p, err := h.Store.CreateSafetyPartner(ctx, models.SafetyPartner{
		UserID:       id.ID,
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		Relationship: req.Relationship,
		IsPrimary:    req.IsPrimary,
	})
	if err != nil {
		h.fail(c, err, "Failed to add safety partner")
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Remove a safety partner
// @Tags safety-partners
// @Param id path string true "partner id"
// @Success 204
// @Failure 404 {object} map[string]any
// @Router /api/safety-partners/{id} [delete]
func (h *Handler) DeleteSafetyPartner(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := h.call(c)
	defer cancel()
	if err := h.Store.DeleteSafetyPartner(ctx, id.ID, c.Param("id")); err != nil {
		h.fail(c, err, "Failed to remove safety partner")
		return
	}
	c.Status(http.StatusNoContent)
}
