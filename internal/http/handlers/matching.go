package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/geocode"
	"github.com/safevisit/backend/internal/http/middleware"
	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/service"
)

type MatchingResponse struct {
	Draft       models.ServiceDraft       `json:"draft"`
	Eligibility service.EligibilityResult `json:"eligibility"`
	Candidates  []service.Candidate       `json:"candidates"`
	Recommended *service.Candidate        `json:"recommended"`
}

// @Summary Technician candidates for the saved draft
// @Tags matching
// @Produce json
// @Success 200 {object} MatchingResponse
// @Failure 404 {object} map[string]any
// @Router /api/matching [get]
func (h *Handler) Matching(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	draft, ok := h.Drafts.Peek(id.ID)
	if !ok {
		writeError(c, http.StatusNotFound, "NO_DRAFT", "No request draft saved", nil)
		return
	}

	ctx, cancel := h.call(c)
	defer cancel()
	techs, err := h.Store.ListTechnicians(ctx, false)
	if err != nil {
		h.fail(c, err, "Failed to load technicians")
		return
	}
	eligibility := service.FilterEligibleTechnicians(techs, draft)

	var origin *geocode.Point
	if len(eligibility.Eligible) > 0 && h.Geocoder != nil {
		p, err := geocode.Locate(ctx, h.Geocoder, h.CountryDefault, draft.Location)
		if err != nil {
			h.Logger.Warn().Err(err).Str("location", draft.Location).Msg("geocode draft location")
		} else {
			origin = &p
		}
	}

	key := strings.Join([]string{id.ID, draft.ServiceType, draft.Location, draft.ScheduledDate, draft.ScheduledTime}, "|")
	ranked, pick := service.RankCandidates(key, eligibility.Eligible, origin)
	resp := MatchingResponse{Draft: draft, Eligibility: eligibility, Candidates: ranked}
	if len(ranked) > 0 {
		resp.Recommended = &pick
	}
	c.JSON(http.StatusOK, resp)
}
