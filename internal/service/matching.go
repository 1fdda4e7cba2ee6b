package service

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/safevisit/backend/internal/geocode"
	"github.com/safevisit/backend/internal/models"
)

type EligibilityResult struct {
	Eligible   []models.TechnicianProfile `json:"-"`
	ReasonCode string                     `json:"reason_code,omitempty"`
	ReasonText string                     `json:"reason_text,omitempty"`
	Stages     []EligibilityStage         `json:"stages"`
}

type EligibilityStage struct {
	Name       string `json:"name"`
	Candidates int    `json:"candidates"`
}

type Candidate struct {
	models.TechnicianProfile
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// FilterEligibleTechnicians narrows the directory for a draft: availability, then specialty,
// then service area. Technicians with no specialties or no areas listed take any job or area.
func FilterEligibleTechnicians(techs []models.TechnicianProfile, draft models.ServiceDraft) EligibilityResult {
	var result EligibilityResult
	stage := func(name string, c []models.TechnicianProfile) {
		result.Stages = append(result.Stages, EligibilityStage{Name: name, Candidates: len(c)})
	}

	stage("directory", techs)
	if len(techs) == 0 {
		result.ReasonCode = "NO_TECHNICIANS"
		result.ReasonText = "No technicians registered"
		return result
	}

	available := filterTechnicians(techs, func(t models.TechnicianProfile) bool { return t.IsAvailable })
	stage("availability", available)
	if len(available) == 0 {
		result.ReasonCode = "NONE_AVAILABLE"
		result.ReasonText = "No technician is available"
		return result
	}

	serviceType := normalize(draft.ServiceType)
	skilled := available
	if serviceType != "" {
		skilled = filterTechnicians(available, func(t models.TechnicianProfile) bool {
			return len(t.Specialties) == 0 || matchesSpecialty(t.Specialties, serviceType)
		})
	}
	stage("specialty", skilled)
	if len(skilled) == 0 {
		result.ReasonCode = "SPECIALTY_MISMATCH"
		result.ReasonText = "No technician covers " + draft.ServiceType
		return result
	}

	location := normalize(draft.Location)
	local := skilled
	if location != "" {
		local = filterTechnicians(skilled, func(t models.TechnicianProfile) bool {
			return len(t.ServiceAreas) == 0 || coversArea(t.ServiceAreas, location)
		})
	}
	stage("service_area", local)
	if len(local) == 0 {
		result.ReasonCode = "OUT_OF_AREA"
		result.ReasonText = "No technician serves " + draft.Location
		return result
	}

	result.Eligible = local
	return result
}

// RankCandidates orders eligible technicians by distance from origin when both are known, then
// rating, completed services and user id. The recommendation is a stable pick between the top two
// keyed by the caller, so repeated lookups for one draft agree.
func RankCandidates(key string, eligible []models.TechnicianProfile, origin *geocode.Point) ([]Candidate, Candidate) {
	out := make([]Candidate, 0, len(eligible))
	for _, t := range eligible {
		c := Candidate{TechnicianProfile: t}
		if origin != nil && t.Lat != nil && t.Lon != nil {
			d := geocode.DistanceKm(*origin, geocode.Point{Lat: *t.Lat, Lon: *t.Lon})
			c.DistanceKm = &d
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return out, Candidate{}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.DistanceKm == nil) != (b.DistanceKm == nil) {
			return a.DistanceKm != nil
		}
		if a.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.TotalServices != b.TotalServices {
			return a.TotalServices > b.TotalServices
		}
		return a.UserID < b.UserID
	})

	top := out
	if len(top) > 2 {
		top = top[:2]
	}
	idx := int(hashKey(key) % uint64(len(top)))
	return out, top[idx]
}

func hashKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// matchesSpecialty accepts an exact match or a shared category, so "전기" covers "전기/조명".
func matchesSpecialty(specialties []string, serviceType string) bool {
	for _, s := range specialties {
		s = normalize(s)
		if s == "" {
			continue
		}
		if s == serviceType || strings.HasPrefix(serviceType, s+"/") || strings.HasPrefix(s, serviceType+"/") {
			return true
		}
	}
	return false
}

func coversArea(areas []string, location string) bool {
	for _, a := range areas {
		if a = normalize(a); a != "" && strings.Contains(location, a) {
			return true
		}
	}
	return false
}

func filterTechnicians(techs []models.TechnicianProfile, keep func(models.TechnicianProfile) bool) []models.TechnicianProfile {
	out := make([]models.TechnicianProfile, 0, len(techs))
	for _, t := range techs {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}
