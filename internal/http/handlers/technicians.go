package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/safevisit/backend/internal/models"
)

type ImportSummary struct {
	Parsed   int      `json:"parsed"`
	Upserted int64    `json:"upserted"`
	Errors   []string `json:"errors"`
}

type setRoleRequest struct {
	Role models.UserRole `json:"role" validate:"required,oneof=customer technician admin"`
}

// @Summary Technician directory
// @Tags technicians
// @Produce json
// @Param available query bool false "only technicians taking jobs"
// @Success 200 {array} models.TechnicianProfile
// @Router /api/technicians [get]
func (h *Handler) ListTechnicians(c *gin.Context) {
	ctx, cancel := h.call(c)
	defer cancel()
	techs, err := h.Store.ListTechnicians(ctx, c.Query("available") == "true")
	if err != nil {
		h.fail(c, err, "Failed to load technicians")
		return
	}
	if techs == nil {
		techs = []models.TechnicianProfile{}
	}
	c.JSON(http.StatusOK, techs)
}

// @Summary Import technicians CSV
// @Description Upserts technician profiles and grants them the technician role. Ratings are kept.
// @Tags admin
// @Accept multipart/form-data
// @Produce json
// @Param X-Admin-Key header string false "admin key"
// @Param technicians formData file true "technicians.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/admin/technicians/import [post]
func (h *Handler) ImportTechnicians(c *gin.Context) {
	file, err := c.FormFile("technicians")
	if err != nil {
		writeError(c, http.StatusBadRequest, "MISSING_FILE", "technicians file is required", err.Error())
		return
	}
	techs, errs := parseTechniciansCSV(file)
	summary := ImportSummary{Parsed: len(techs), Errors: errs}
	if summary.Errors == nil {
		summary.Errors = []string{}
	}
	if len(techs) == 0 {
		writeError(c, http.StatusBadRequest, "EMPTY_IMPORT", "No technician rows parsed", errs)
		return
	}

	ctx, cancel := h.call(c)
	defer cancel()
	n, err := h.Store.UpsertTechnicians(ctx, techs)
	if err != nil {
		h.fail(c, err, "Failed to import technicians")
		return
	}
	summary.Upserted = n
	for _, t := range techs {
		if err := h.Sessions.RoleChanged(ctx, t.UserID); err != nil {
			h.Logger.Warn().Err(err).Str("user_id", t.UserID).Msg("apply imported role")
		}
	}
	h.Logger.Info().Int("parsed", summary.Parsed).Int64("upserted", n).Int("errors", len(errs)).Msg("technicians imported")
	c.JSON(http.StatusOK, summary)
}

// @Summary Set a user's role
// @Tags admin
// @Accept json
// @Produce json
// @Param X-Admin-Key header string false "admin key"
// @Param user_id path string true "user id"
// @Param body body setRoleRequest true "role"
// @Success 200 {object} map[string]string
// @Router /api/admin/roles/{user_id} [put]
func (h *Handler) SetUserRole(c *gin.Context) {
	var req setRoleRequest
	if !h.bind(c, &req) {
		return
	}
	userID := c.Param("user_id")
	ctx, cancel := h.call(c)
	defer cancel()
	if err := h.Store.SetUserRole(ctx, userID, req.Role); err != nil {
		h.fail(c, err, "Failed to set role")
		return
	}
	if err := h.Sessions.RoleChanged(ctx, userID); err != nil {
		h.Logger.Warn().Err(err).Str("user_id", userID).Msg("apply role to open session")
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": req.Role})
}

func parseTechniciansCSV(file *multipart.FileHeader) ([]models.TechnicianProfile, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)
	var errors []string
	var out []models.TechnicianProfile
	seen := map[string]bool{}

	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errors = append(errors, err.Error())
			continue
		}

		t := models.TechnicianProfile{
			UserID:       getFieldAny(rec, index, "user_id", "user id", "id"),
			DisplayName:  getFieldAny(rec, index, "display_name", "name", "이름"),
			Specialties:  splitList(getFieldAny(rec, index, "specialties", "전문분야")),
			ServiceAreas: splitList(getFieldAny(rec, index, "service_areas", "areas", "서비스지역")),
			Bio:          getFieldAny(rec, index, "bio", "소개"),
			IsAvailable:  true,
		}
		if t.UserID == "" {
			errors = append(errors, fmt.Sprintf("line %d: user_id required", line))
			continue
		}
		if seen[t.UserID] {
			errors = append(errors, fmt.Sprintf("line %d: duplicate user_id %s", line, t.UserID))
			continue
		}
		if raw := getFieldAny(rec, index, "is_available", "available"); raw != "" {
			v, err := strconv.ParseBool(strings.ToLower(raw))
			if err != nil {
				errors = append(errors, fmt.Sprintf("line %d: is_available %q", line, raw))
				continue
			}
			t.IsAvailable = v
		}
		lat, latErr := parseCoord(getFieldAny(rec, index, "lat", "latitude"))
		lon, lonErr := parseCoord(getFieldAny(rec, index, "lon", "lng", "longitude"))
		if latErr != nil || lonErr != nil {
			errors = append(errors, fmt.Sprintf("line %d: invalid coordinates", line))
			continue
		}
		if lat != nil && lon != nil {
			t.Lat, t.Lon = lat, lon
		}
		seen[t.UserID] = true
		out = append(out, t)
	}
	return out, errors
}

func parseCoord(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

// splitList reads "a; b, c" style cells.
func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, ";", ",")
	parts := strings.Split(raw, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
