package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/safevisit/backend/internal/models"
)

func req(id, customer string, status models.RequestStatus, created time.Time) models.ServiceRequest {
	return models.ServiceRequest{ID: id, CustomerID: customer, Status: status, CreatedAt: created}
}

func TestDerivePicksNewestActive(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	tech := "t1"
	assigned := req("r4", "c9", models.RequestMonitoring, t0.Add(time.Hour))
	assigned.TechnicianID = &tech

	rows := []models.ServiceRequest{
		req("r1", "c1", models.RequestPending, t0),
		req("r2", "c1", models.RequestAccepted, t0.Add(2*time.Hour)),
		req("r3", "c1", models.RequestCompleted, t0.Add(3*time.Hour)),
		req("r5", "c1", models.RequestRejected, t0.Add(4*time.Hour)),
		req("r6", "c2", models.RequestPending, t0.Add(5*time.Hour)),
		assigned,
	}

	got, ok := Derive("c1", rows)
	assert.True(t, ok)
	assert.Equal(t, "r2", got.ID)

	got, ok = Derive("t1", rows)
	assert.True(t, ok)
	assert.Equal(t, "r4", got.ID)

	_, ok = Derive("nobody", rows)
	assert.False(t, ok)
	_, ok = Derive("", rows)
	assert.False(t, ok)
}

func TestDeriveTieBreakIndependentOfOrder(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	a := req("a", "c1", models.RequestPending, t0)
	b := req("b", "c1", models.RequestPending, t0)

	got, _ := Derive("c1", []models.ServiceRequest{a, b})
	assert.Equal(t, "b", got.ID)
	got, _ = Derive("c1", []models.ServiceRequest{b, a})
	assert.Equal(t, "b", got.ID)
}

func TestStatusFlagsOnlyForKnownTransitions(t *testing.T) {
	t0 := time.Now()
	prev := []models.ServiceRequest{
		req("r1", "c1", models.RequestPending, t0),
		req("r2", "c1", models.RequestPending, t0),
		req("r3", "c1", models.RequestAccepted, t0),
	}
	next := []models.ServiceRequest{
		req("r1", "c1", models.RequestAccepted, t0),
		req("r2", "c1", models.RequestRejected, t0),
		req("r3", "c1", models.RequestMonitoring, t0),
		req("r4", "c1", models.RequestAccepted, t0),
	}
	assert.ElementsMatch(t, []string{"accepted_r1", "rejected_r2"}, statusFlags(prev, next))
}

func TestMergeSnapshotDedupesNewestFirst(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	own := []models.ServiceRequest{req("r1", "c1", models.RequestAccepted, t0)}
	open := []models.ServiceRequest{
		req("r2", "c2", models.RequestPending, t0.Add(time.Minute)),
		req("r1", "c1", models.RequestPending, t0),
	}
	out := mergeSnapshot(own, open)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "r2", out[0].ID)
		assert.Equal(t, models.RequestAccepted, out[1].Status)
	}
}
