package lifecycle

import (
	"errors"
	"sort"

	"github.com/safevisit/backend/internal/models"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusMonitoring Status = "monitoring"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusPending, StatusAccepted, StatusMonitoring, StatusCompleted:
		return true
	}
	return false
}

var (
	ErrNoIdentity        = errors.New("no signed-in identity")
	ErrNoActiveRequest   = errors.New("no active service request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("operation not allowed for role")
	ErrClosed            = errors.New("session closed")
)

// Derive picks the viewer's active request: one they are customer or technician on whose status
// is pending, accepted or monitoring. With several candidates the most recently created wins,
// then the greatest id.
func Derive(viewerID string, requests []models.ServiceRequest) (models.ServiceRequest, bool) {
	var (
		best  models.ServiceRequest
		found bool
	)
	for _, r := range requests {
		if !r.Involves(viewerID) || !r.Status.Active() {
			continue
		}
		if !found || newer(r, best) {
			best = r
			found = true
		}
	}
	return best, found
}

func newer(a, b models.ServiceRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// mergeSnapshot unions row sets by id, keeping the first copy seen, ordered newest first.
func mergeSnapshot(sets ...[]models.ServiceRequest) []models.ServiceRequest {
	seen := map[string]bool{}
	var out []models.ServiceRequest
	for _, set := range sets {
		for _, r := range set {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

// statusFlags reports the accepted_/rejected_ flags implied by rows whose status moved since prev.
func statusFlags(prev, next []models.ServiceRequest) []string {
	before := make(map[string]models.RequestStatus, len(prev))
	for _, r := range prev {
		before[r.ID] = r.Status
	}
	var flags []string
	for _, r := range next {
		old, known := before[r.ID]
		if !known || old == r.Status {
			continue
		}
		if r.Status == models.RequestAccepted || r.Status == models.RequestRejected {
			flags = append(flags, FlagKey(r.Status, r.ID))
		}
	}
	return flags
}

// FlagKey builds the one-shot notification key, e.g. accepted_<id>.
func FlagKey(action models.RequestStatus, requestID string) string {
	return string(action) + "_" + requestID
}
