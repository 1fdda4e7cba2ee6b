package models

import "time"

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestRejected   RequestStatus = "rejected"
	RequestMonitoring RequestStatus = "monitoring"
	RequestCompleted  RequestStatus = "completed"
)

// Active reports whether a request in this status can be the viewer's active request.
func (s RequestStatus) Active() bool {
	return s == RequestPending || s == RequestAccepted || s == RequestMonitoring
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected, RequestMonitoring, RequestCompleted:
		return true
	}
	return false
}

type UserRole string

const (
	RoleCustomer   UserRole = "customer"
	RoleTechnician UserRole = "technician"
	RoleAdmin      UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == RoleCustomer || r == RoleTechnician || r == RoleAdmin
}

type ServiceRequest struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customer_id"`
	TechnicianID   *string       `json:"technician_id"`
	CustomerName   string        `json:"customer_name"`
	TechnicianName *string       `json:"technician_name"`
	ServiceType    string        `json:"service_type"`
	Location       string        `json:"location"`
	Description    string        `json:"description,omitempty"`
	ScheduledDate  string        `json:"scheduled_date"`
	ScheduledTime  string        `json:"scheduled_time"`
	Status         RequestStatus `json:"status"`
	StartTime      *time.Time    `json:"start_time"`
	CompletedAt    *time.Time    `json:"completed_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Involves reports whether the user is the customer or the assigned technician.
func (r ServiceRequest) Involves(userID string) bool {
	if userID == "" {
		return false
	}
	return r.CustomerID == userID || (r.TechnicianID != nil && *r.TechnicianID == userID)
}

// ServiceRequestUpdate carries the columns a status transition may touch. Nil fields are left alone.
type ServiceRequestUpdate struct {
	Status         RequestStatus
	TechnicianID   *string
	TechnicianName *string
	StartTime      *time.Time
	CompletedAt    *time.Time
	// ExpectFrom lists the statuses the row must currently be in; empty means any.
	ExpectFrom []RequestStatus
}

// ServiceInfo is the session projection of the active request.
type ServiceInfo struct {
	TechnicianName string     `json:"technician_name"`
	ServiceType    string     `json:"service_type"`
	ScheduledDate  string     `json:"scheduled_date"`
	ScheduledTime  string     `json:"scheduled_time"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	Location       string     `json:"location"`
}

func InfoFromRequest(r ServiceRequest) ServiceInfo {
	info := ServiceInfo{
		ServiceType:   r.ServiceType,
		ScheduledDate: r.ScheduledDate,
		ScheduledTime: r.ScheduledTime,
		Location:      r.Location,
		StartTime:     r.StartTime,
	}
	if r.TechnicianName != nil {
		info.TechnicianName = *r.TechnicianName
	}
	return info
}

// ServiceDraft is the request drafted on the creation screen and handed to matching.
type ServiceDraft struct {
	ServiceType   string `json:"service_type" validate:"required"`
	Location      string `json:"location" validate:"required"`
	ScheduledDate string `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	ScheduledTime string `json:"scheduled_time" validate:"required,datetime=15:04"`
	Description   string `json:"description"`
}

type Profile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName *string   `json:"display_name"`
	PhoneNumber *string   `json:"phone_number"`
	AvatarURL   *string   `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpdate holds the editable profile columns. Nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url"`
}

type SafetyPartner struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number"`
	Relationship *string   `json:"relationship"`
	IsPrimary    bool      `json:"is_primary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const AlertTypeEmergency = "emergency"

type EmergencyAlert struct {
	ID                  string    `json:"id"`
	MonitoringSessionID string    `json:"monitoring_session_id"`
	CustomerID          string    `json:"customer_id"`
	TechnicianID        *string   `json:"technician_id"`
	AlertType           string    `json:"alert_type"`
	Location            string    `json:"location"`
	CreatedAt           time.Time `json:"created_at"`
}

type TechnicianProfile struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	Specialties   []string  `json:"specialties"`
	ServiceAreas  []string  `json:"service_areas"`
	Rating        float64   `json:"rating"`
	TotalServices int       `json:"total_services"`
	IsAvailable   bool      `json:"is_available"`
	Bio           string    `json:"bio,omitempty"`
	Lat           *float64  `json:"lat,omitempty"`
	Lon           *float64  `json:"lon,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ServiceReview struct {
	ID               string    `json:"id"`
	ServiceRequestID string    `json:"service_request_id"`
	CustomerID       string    `json:"customer_id"`
	TechnicianID     string    `json:"technician_id"`
	Rating           int       `json:"rating"`
	Comment          string    `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
