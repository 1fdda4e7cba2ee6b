package service

import (
	"testing"

	"github.com/safevisit/backend/internal/geocode"
	"github.com/safevisit/backend/internal/models"
)

func f64(v float64) *float64 { return &v }

func directory() []models.TechnicianProfile {
	return []models.TechnicianProfile{
		{UserID: "t1", DisplayName: "김미영", Specialties: []string{"전기/조명"}, ServiceAreas: []string{"강남구"}, IsAvailable: true, Rating: 4.9, TotalServices: 127},
		{UserID: "t2", DisplayName: "이수진", Specialties: []string{"배관"}, ServiceAreas: []string{"강남구"}, IsAvailable: true, Rating: 4.8},
		{UserID: "t3", DisplayName: "박혜원", Specialties: []string{"전기"}, ServiceAreas: []string{"마포구"}, IsAvailable: true, Rating: 4.7},
		{UserID: "t4", DisplayName: "최은정", Specialties: []string{"전기/조명"}, IsAvailable: false, Rating: 5},
		{UserID: "t5", DisplayName: "정하나", IsAvailable: true, Rating: 4.2},
	}
}

func TestFilterEligibleTechnicians(t *testing.T) {
	draft := models.ServiceDraft{ServiceType: "전기/조명", Location: "서울시 강남구 역삼동"}
	res := FilterEligibleTechnicians(directory(), draft)
	if res.ReasonCode != "" {
		t.Fatalf("unexpected reason %s", res.ReasonCode)
	}
	if len(res.Eligible) != 2 || res.Eligible[0].UserID != "t1" || res.Eligible[1].UserID != "t5" {
		t.Fatalf("expected t1 and generalist t5, got %+v", res.Eligible)
	}
	names := []string{"directory", "availability", "specialty", "service_area"}
	if len(res.Stages) != len(names) {
		t.Fatalf("expected %d stages, got %d", len(names), len(res.Stages))
	}
	for i, n := range names {
		if res.Stages[i].Name != n {
			t.Fatalf("stage %d: expected %s, got %s", i, n, res.Stages[i].Name)
		}
	}
}

func TestFilterEligibleTechniciansReasons(t *testing.T) {
	if res := FilterEligibleTechnicians(nil, models.ServiceDraft{}); res.ReasonCode != "NO_TECHNICIANS" {
		t.Fatalf("expected NO_TECHNICIANS, got %s", res.ReasonCode)
	}
	busy := []models.TechnicianProfile{{UserID: "t1", IsAvailable: false}}
	if res := FilterEligibleTechnicians(busy, models.ServiceDraft{}); res.ReasonCode != "NONE_AVAILABLE" {
		t.Fatalf("expected NONE_AVAILABLE, got %s", res.ReasonCode)
	}
	plumbers := []models.TechnicianProfile{{UserID: "t2", Specialties: []string{"배관"}, IsAvailable: true}}
	if res := FilterEligibleTechnicians(plumbers, models.ServiceDraft{ServiceType: "도배"}); res.ReasonCode != "SPECIALTY_MISMATCH" {
		t.Fatalf("expected SPECIALTY_MISMATCH, got %s", res.ReasonCode)
	}
	mapo := []models.TechnicianProfile{{UserID: "t3", ServiceAreas: []string{"마포구"}, IsAvailable: true}}
	res := FilterEligibleTechnicians(mapo, models.ServiceDraft{Location: "부산시 해운대구"})
	if res.ReasonCode != "OUT_OF_AREA" {
		t.Fatalf("expected OUT_OF_AREA, got %s", res.ReasonCode)
	}
	if len(res.Eligible) != 0 {
		t.Fatalf("expected no eligible technicians")
	}
}

func TestRankCandidatesOrdersByDistanceThenRating(t *testing.T) {
	techs := []models.TechnicianProfile{
		{UserID: "far", Rating: 5, Lat: f64(35.1796), Lon: f64(129.0756)},
		{UserID: "near", Rating: 3, Lat: f64(37.50), Lon: f64(127.03)},
		{UserID: "unknown-high", Rating: 4.9},
		{UserID: "unknown-low", Rating: 4.1},
	}
	origin := &geocode.Point{Lat: 37.4979, Lon: 127.0276}
	ranked, _ := RankCandidates("draft-1", techs, origin)
	want := []string{"near", "far", "unknown-high", "unknown-low"}
	for i, id := range want {
		if ranked[i].UserID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].UserID)
		}
	}
	if ranked[0].DistanceKm == nil || *ranked[0].DistanceKm > 1 {
		t.Fatalf("expected near distance under 1km, got %v", ranked[0].DistanceKm)
	}
	if ranked[2].DistanceKm != nil {
		t.Fatalf("expected no distance without coordinates")
	}
}

func TestRankCandidatesWithoutOriginUsesRating(t *testing.T) {
	techs := []models.TechnicianProfile{
		{UserID: "a", Rating: 4.5, TotalServices: 10},
		{UserID: "b", Rating: 4.5, TotalServices: 30},
		{UserID: "c", Rating: 4.8},
	}
	ranked, _ := RankCandidates("k", techs, nil)
	if ranked[0].UserID != "c" || ranked[1].UserID != "b" || ranked[2].UserID != "a" {
		t.Fatalf("unexpected order: %s %s %s", ranked[0].UserID, ranked[1].UserID, ranked[2].UserID)
	}
}

func TestRankCandidatesPickDeterministic(t *testing.T) {
	techs := directory()
	_, pick1 := RankCandidates("draft-42", techs, nil)
	_, pick2 := RankCandidates("draft-42", techs, nil)
	if pick1.UserID != pick2.UserID {
		t.Fatalf("expected deterministic recommendation")
	}
	ranked, _ := RankCandidates("draft-42", techs, nil)
	if pick1.UserID != ranked[0].UserID && pick1.UserID != ranked[1].UserID {
		t.Fatalf("expected recommendation from the top two, got %s", pick1.UserID)
	}

	empty, pick := RankCandidates("x", nil, nil)
	if len(empty) != 0 || pick.UserID != "" {
		t.Fatalf("expected empty ranking")
	}
}
