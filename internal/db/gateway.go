package db

import (
	"context"
	"errors"

	"github.com/safevisit/backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the row exists but is not in a state the write expected.
	ErrConflict = errors.New("record state conflict")
	// ErrPrecondition means the write is not allowed for the referenced row.
	ErrPrecondition = errors.New("precondition failed")
)

// Gateway is the remote data contract consumed by the session layer and the HTTP handlers.
// Store backs it with PostgreSQL, MemStore keeps everything in process.
type Gateway interface {
	Ping(ctx context.Context) error
	Close()

	// ListServiceRequests returns rows where the user is customer or technician, newest first.
	ListServiceRequests(ctx context.Context, userID string) ([]models.ServiceRequest, error)
	// ListOpenServiceRequests returns pending rows with no technician, newest first.
	ListOpenServiceRequests(ctx context.Context) ([]models.ServiceRequest, error)
	GetServiceRequest(ctx context.Context, id string) (models.ServiceRequest, error)
	CreateServiceRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error)
	UpdateServiceRequest(ctx context.Context, id string, u models.ServiceRequestUpdate) (models.ServiceRequest, error)

	ListSafetyPartners(ctx context.Context, userID string) ([]models.SafetyPartner, error)
	CreateSafetyPartner(ctx context.Context, p models.SafetyPartner) (models.SafetyPartner, error)
	DeleteSafetyPartner(ctx context.Context, userID, partnerID string) error

	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, u models.ProfileUpdate) (models.Profile, error)

	CreateEmergencyAlert(ctx context.Context, a models.EmergencyAlert) (models.EmergencyAlert, error)
	ListEmergencyAlerts(ctx context.Context, sessionID string) ([]models.EmergencyAlert, error)

	GetUserRole(ctx context.Context, userID string) (models.UserRole, error)
	SetUserRole(ctx context.Context, userID string, role models.UserRole) error

	ListTechnicians(ctx context.Context, onlyAvailable bool) ([]models.TechnicianProfile, error)
	UpsertTechnicians(ctx context.Context, techs []models.TechnicianProfile) (int64, error)

	// CreateReview stores a review for a completed request and folds it into the technician rating.
	CreateReview(ctx context.Context, r models.ServiceReview) (models.ServiceReview, error)
}

func statusStrings(in []models.RequestStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func expectAllows(expect []models.RequestStatus, current models.RequestStatus) bool {
	if len(expect) == 0 {
		return true
	}
	for _, s := range expect {
		if s == current {
			return true
		}
	}
	return false
}

// foldRating returns the running average after adding one rating.
func foldRating(avg float64, count int, rating int) float64 {
	return (avg*float64(count) + float64(rating)) / float64(count+1)
}
