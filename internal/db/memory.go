package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/realtime"
)

// MemStore is an in-process Gateway used when no DATABASE_URL is configured and in tests.
// Service request writes are published to Hub the way the database trigger does.
type MemStore struct {
	Hub *realtime.Hub
	Now func() time.Time

	mu          sync.Mutex
	seq         int64
	requests    map[string]memRequest
	partners    map[string]memPartner
	profiles    map[string]models.Profile
	alerts      []models.EmergencyAlert
	roles       map[string]models.UserRole
	technicians map[string]models.TechnicianProfile
	reviews     map[string]models.ServiceReview
	failures    map[string]error
}

type memRequest struct {
	seq int64
	req models.ServiceRequest
}

type memPartner struct {
	seq     int64
	partner models.SafetyPartner
}

var _ Gateway = (*MemStore)(nil)

func NewMemStore(hub *realtime.Hub) *MemStore {
	return &MemStore{
		Hub:         hub,
		Now:         func() time.Time { return time.Now().UTC() },
		requests:    map[string]memRequest{},
		partners:    map[string]memPartner{},
		profiles:    map[string]models.Profile{},
		roles:       map[string]models.UserRole{},
		technicians: map[string]models.TechnicianProfile{},
		reviews:     map[string]models.ServiceReview{},
		failures:    map[string]error{},
	}
}

// InjectError makes every later call of the named method fail with err until cleared with a nil err.
func (m *MemStore) InjectError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MemStore) fail(method string) error {
	return m.failures[method]
}

func (m *MemStore) publish(op string, r models.ServiceRequest) {
	if m.Hub == nil {
		return
	}
	c := realtime.Change{Op: op, RequestID: r.ID, CustomerID: r.CustomerID, Status: string(r.Status)}
	if r.TechnicianID != nil {
		c.TechnicianID = *r.TechnicianID
	}
	m.Hub.Publish(c)
}

func (m *MemStore) Ping(ctx context.Context) error { return m.fail("Ping") }

func (m *MemStore) Close() {}

func (m *MemStore) sortedRequests(keep func(models.ServiceRequest) bool) []models.ServiceRequest {
	items := make([]memRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if keep(r.req) {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].req.CreatedAt.Equal(items[j].req.CreatedAt) {
			return items[i].req.CreatedAt.After(items[j].req.CreatedAt)
		}
		return items[i].seq > items[j].seq
	})
	out := make([]models.ServiceRequest, 0, len(items))
	for _, it := range items {
		out = append(out, cloneRequest(it.req))
	}
	return out
}

func (m *MemStore) ListServiceRequests(ctx context.Context, userID string) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListServiceRequests"); err != nil {
		return nil, err
	}
	return m.sortedRequests(func(r models.ServiceRequest) bool { return r.Involves(userID) }), nil
}

func (m *MemStore) ListOpenServiceRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListOpenServiceRequests"); err != nil {
		return nil, err
	}
	return m.sortedRequests(func(r models.ServiceRequest) bool {
		return r.Status == models.RequestPending && r.TechnicianID == nil
	}), nil
}

func (m *MemStore) GetServiceRequest(ctx context.Context, id string) (models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetServiceRequest"); err != nil {
		return models.ServiceRequest{}, err
	}
	r, ok := m.requests[id]
	if !ok {
		return models.ServiceRequest{}, ErrNotFound
	}
	return cloneRequest(r.req), nil
}

func (m *MemStore) CreateServiceRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error) {
	m.mu.Lock()
	if err := m.fail("CreateServiceRequest"); err != nil {
		m.mu.Unlock()
		return models.ServiceRequest{}, err
	}
	now := m.Now()
	m.seq++
	r.ID = uuid.NewString()
	if r.Status == "" {
		r.Status = models.RequestPending
	}
	r.StartTime = nil
	r.CompletedAt = nil
	r.CreatedAt = now
	r.UpdatedAt = now
	m.requests[r.ID] = memRequest{seq: m.seq, req: cloneRequest(r)}
	m.mu.Unlock()

	m.publish(realtime.OpInsert, r)
	return cloneRequest(r), nil
}

func (m *MemStore) UpdateServiceRequest(ctx context.Context, id string, u models.ServiceRequestUpdate) (models.ServiceRequest, error) {
	m.mu.Lock()
	if err := m.fail("UpdateServiceRequest"); err != nil {
		m.mu.Unlock()
		return models.ServiceRequest{}, err
	}
	item, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return models.ServiceRequest{}, ErrNotFound
	}
	if !expectAllows(u.ExpectFrom, item.req.Status) {
		m.mu.Unlock()
		return models.ServiceRequest{}, ErrConflict
	}
	r := item.req
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.TechnicianID != nil {
		r.TechnicianID = strPtr(*u.TechnicianID)
	}
	if u.TechnicianName != nil {
		r.TechnicianName = strPtr(*u.TechnicianName)
	}
	if u.StartTime != nil {
		t := *u.StartTime
		r.StartTime = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		r.CompletedAt = &t
	}
	r.UpdatedAt = m.Now()
	item.req = cloneRequest(r)
	m.requests[id] = item
	m.mu.Unlock()

	m.publish(realtime.OpUpdate, r)
	return cloneRequest(r), nil
}

func (m *MemStore) ListSafetyPartners(ctx context.Context, userID string) ([]models.SafetyPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListSafetyPartners"); err != nil {
		return nil, err
	}
	var items []memPartner
	for _, p := range m.partners {
		if p.partner.UserID == userID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq > items[j].seq })
	out := make([]models.SafetyPartner, 0, len(items))
	for _, it := range items {
		out = append(out, it.partner)
	}
	return out, nil
}

func (m *MemStore) CreateSafetyPartner(ctx context.Context, p models.SafetyPartner) (models.SafetyPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateSafetyPartner"); err != nil {
		return models.SafetyPartner{}, err
	}
	now := m.Now()
	if p.IsPrimary {
		for id, existing := range m.partners {
			if existing.partner.UserID == p.UserID && existing.partner.IsPrimary {
				existing.partner.IsPrimary = false
				existing.partner.UpdatedAt = now
				m.partners[id] = existing
			}
		}
	}
	m.seq++
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.partners[p.ID] = memPartner{seq: m.seq, partner: p}
	return p, nil
}

func (m *MemStore) DeleteSafetyPartner(ctx context.Context, userID, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteSafetyPartner"); err != nil {
		return err
	}
	p, ok := m.partners[partnerID]
	if !ok || p.partner.UserID != userID {
		return ErrNotFound
	}
	delete(m.partners, partnerID)
	return nil
}

func (m *MemStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetProfile"); err != nil {
		return models.Profile{}, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemStore) UpdateProfile(ctx context.Context, userID string, u models.ProfileUpdate) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateProfile"); err != nil {
		return models.Profile{}, err
	}
	now := m.Now()
	p, ok := m.profiles[userID]
	if !ok {
		p = models.Profile{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
	}
	if u.DisplayName != nil {
		p.DisplayName = strPtr(*u.DisplayName)
	}
	if u.PhoneNumber != nil {
		p.PhoneNumber = strPtr(*u.PhoneNumber)
	}
	if u.AvatarURL != nil {
		p.AvatarURL = strPtr(*u.AvatarURL)
	}
	p.UpdatedAt = now
	m.profiles[userID] = p
	return p, nil
}

func (m *MemStore) CreateEmergencyAlert(ctx context.Context, a models.EmergencyAlert) (models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateEmergencyAlert"); err != nil {
		return models.EmergencyAlert{}, err
	}
	a.ID = uuid.NewString()
	a.CreatedAt = m.Now()
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *MemStore) ListEmergencyAlerts(ctx context.Context, sessionID string) ([]models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListEmergencyAlerts"); err != nil {
		return nil, err
	}
	var out []models.EmergencyAlert
	for _, a := range m.alerts {
		if a.MonitoringSessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) GetUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUserRole"); err != nil {
		return "", err
	}
	role, ok := m.roles[userID]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

func (m *MemStore) SetUserRole(ctx context.Context, userID string, role models.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetUserRole"); err != nil {
		return err
	}
	m.roles[userID] = role
	return nil
}

func (m *MemStore) ListTechnicians(ctx context.Context, onlyAvailable bool) ([]models.TechnicianProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListTechnicians"); err != nil {
		return nil, err
	}
	var out []models.TechnicianProfile
	for _, t := range m.technicians {
		if onlyAvailable && !t.IsAvailable {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].TotalServices != out[j].TotalServices {
			return out[i].TotalServices > out[j].TotalServices
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *MemStore) UpsertTechnicians(ctx context.Context, techs []models.TechnicianProfile) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertTechnicians"); err != nil {
		return 0, err
	}
	now := m.Now()
	for _, t := range techs {
		if existing, ok := m.technicians[t.UserID]; ok {
			t.ID = existing.ID
			t.Rating = existing.Rating
			t.TotalServices = existing.TotalServices
		} else {
			t.ID = uuid.NewString()
		}
		t.UpdatedAt = now
		m.technicians[t.UserID] = t
		m.roles[t.UserID] = models.RoleTechnician
	}
	return int64(len(techs)), nil
}

func (m *MemStore) CreateReview(ctx context.Context, r models.ServiceReview) (models.ServiceReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateReview"); err != nil {
		return models.ServiceReview{}, err
	}
	item, ok := m.requests[r.ServiceRequestID]
	if !ok {
		return models.ServiceReview{}, ErrNotFound
	}
	req := item.req
	if req.CustomerID != r.CustomerID || req.Status != models.RequestCompleted || req.TechnicianID == nil {
		return models.ServiceReview{}, ErrPrecondition
	}
	if _, exists := m.reviews[r.ServiceRequestID]; exists {
		return models.ServiceReview{}, ErrConflict
	}
	r.ID = uuid.NewString()
	r.TechnicianID = *req.TechnicianID
	r.CreatedAt = m.Now()
	m.reviews[r.ServiceRequestID] = r

	if t, ok := m.technicians[r.TechnicianID]; ok {
		t.Rating = foldRating(t.Rating, t.TotalServices, r.Rating)
		t.TotalServices++
		t.UpdatedAt = r.CreatedAt
		m.technicians[r.TechnicianID] = t
	}
	return r, nil
}

func cloneRequest(r models.ServiceRequest) models.ServiceRequest {
	if r.TechnicianID != nil {
		r.TechnicianID = strPtr(*r.TechnicianID)
	}
	if r.TechnicianName != nil {
		r.TechnicianName = strPtr(*r.TechnicianName)
	}
	if r.StartTime != nil {
		t := *r.StartTime
		r.StartTime = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func strPtr(s string) *string {
	return &s
}
