package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/localstore"
	"github.com/safevisit/backend/internal/models"
	"github.com/safevisit/backend/internal/realtime"
)

const (
	defaultCustomerName = "사용자"
	unknownLocation     = "위치 정보 없음"
)

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (i Identity) label() string {
	if s := strings.TrimSpace(i.DisplayName); s != "" {
		return s
	}
	return strings.TrimSpace(i.Email)
}

type Deps struct {
	Gateway db.Gateway
	// Storage must already be scoped to the identity.
	Storage localstore.Storage
	// Changes is the row change feed used by Watch. Nil disables Watch.
	Changes *realtime.Hub
	Logger  zerolog.Logger
	// Timeout bounds every gateway call. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	Now     func() time.Time
}

// State is a point-in-time copy of the session. Role is the resolved role used for
// authorization and survives reset; UserType mirrors the durable userType key and does not.
type State struct {
	Status             Status                  `json:"status"`
	ServiceInfo        *models.ServiceInfo     `json:"service_info"`
	CurrentServiceID   string                  `json:"current_service_id,omitempty"`
	EmergencyTriggered bool                    `json:"emergency_triggered"`
	Role               models.UserRole         `json:"role,omitempty"`
	UserType           models.UserRole         `json:"user_type,omitempty"`
	ServiceRequests    []models.ServiceRequest `json:"service_requests"`
	StatusChangeFlags  map[string]bool         `json:"status_change_flags"`
}

// Manager owns the service lifecycle of one signed-in identity. It is fed by two streams:
// local operations, applied optimistically, and remote snapshots, which always win.
type Manager struct {
	deps     Deps
	identity Identity
	updates  *realtime.Hub

	mu      sync.Mutex
	state   State
	fetched uint64
	applied uint64
	closed  bool
	stop    chan struct{}
}

func New(deps Deps, identity Identity) (*Manager, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return nil, ErrNoIdentity
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	deps.Logger = deps.Logger.With().Str("user_id", identity.ID).Logger()
	return &Manager{
		deps:     deps,
		identity: identity,
		updates:  realtime.NewHub(),
		state:    State{Status: StatusIdle, StatusChangeFlags: map[string]bool{}},
		stop:     make(chan struct{}),
	}, nil
}

func (m *Manager) Identity() Identity { return m.identity }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.ServiceInfo != nil {
		info := *s.ServiceInfo
		s.ServiceInfo = &info
	}
	s.ServiceRequests = append(make([]models.ServiceRequest, 0, len(m.state.ServiceRequests)), m.state.ServiceRequests...)
	s.StatusChangeFlags = make(map[string]bool, len(m.state.StatusChangeFlags))
	for k, v := range m.state.StatusChangeFlags {
		s.StatusChangeFlags[k] = v
	}
	return s
}

// CurrentRequest returns the active request row from the visible set.
func (m *Manager) CurrentRequest() (models.ServiceRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(m.state.CurrentServiceID)
}

// Subscribe signals after every state change. Signals coalesce; read State on wake-up.
func (m *Manager) Subscribe() *realtime.Subscription {
	return m.updates.Subscribe(nil)
}

func (m *Manager) notify() {
	m.updates.Publish(realtime.Change{Op: realtime.OpUpdate, CustomerID: m.identity.ID})
}

// SetRole records the resolved role without touching the lifecycle fields.
func (m *Manager) SetRole(ctx context.Context, role models.UserRole) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state.Role = role
	m.state.UserType = ""
	if role == models.RoleCustomer || role == models.RoleTechnician {
		m.state.UserType = role
	}
	m.persistLocked(ctx)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.deps.Timeout > 0 {
		return context.WithTimeout(ctx, m.deps.Timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) findLocked(id string) (models.ServiceRequest, bool) {
	if id == "" {
		return models.ServiceRequest{}, false
	}
	for _, r := range m.state.ServiceRequests {
		if r.ID == id {
			return r, true
		}
	}
	return models.ServiceRequest{}, false
}

// upsertLocked replaces or prepends a row in the visible set.
func (m *Manager) upsertLocked(row models.ServiceRequest) {
	for i, r := range m.state.ServiceRequests {
		if r.ID == row.ID {
			m.state.ServiceRequests[i] = row
			return
		}
	}
	m.state.ServiceRequests = mergeSnapshot([]models.ServiceRequest{row}, m.state.ServiceRequests)
}

// deriveLocked runs the derivation pass over the current visible set.
func (m *Manager) deriveLocked() {
	if active, ok := Derive(m.identity.ID, m.state.ServiceRequests); ok {
		info := models.InfoFromRequest(active)
		m.state.CurrentServiceID = active.ID
		m.state.Status = Status(active.Status)
		m.state.ServiceInfo = &info
		return
	}
	m.state.CurrentServiceID = ""
	m.state.Status = StatusIdle
	m.state.ServiceInfo = nil
}

// RequestService creates a pending request from the draft and adopts it as active.
// technicianName is the technician picked on the matching screen, if any.
func (m *Manager) RequestService(ctx context.Context, draft models.ServiceDraft, technicianName string) (models.ServiceRequest, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.ServiceRequest{}, ErrClosed
	}
	switch m.state.Status {
	case StatusPending, StatusAccepted, StatusMonitoring:
		m.mu.Unlock()
		return models.ServiceRequest{}, fmt.Errorf("%w: request already %s", ErrInvalidTransition, m.state.Status)
	}
	m.mu.Unlock()

	name := m.identity.label()
	if name == "" {
		name = defaultCustomerName
	}
	row := models.ServiceRequest{
		CustomerID:    m.identity.ID,
		CustomerName:  name,
		ServiceType:   draft.ServiceType,
		Location:      draft.Location,
		Description:   draft.Description,
		ScheduledDate: draft.ScheduledDate,
		ScheduledTime: draft.ScheduledTime,
		Status:        models.RequestPending,
	}
	if technicianName = strings.TrimSpace(technicianName); technicianName != "" {
		row.TechnicianName = &technicianName
	}

	cctx, cancel := m.call(ctx)
	created, err := m.deps.Gateway.CreateServiceRequest(cctx, row)
	cancel()
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("service_type", draft.ServiceType).Msg("create service request")
		return models.ServiceRequest{}, fmt.Errorf("create service request: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return created, ErrClosed
	}
	info := models.InfoFromRequest(created)
	m.upsertLocked(created)
	m.state.CurrentServiceID = created.ID
	m.state.Status = StatusPending
	m.state.ServiceInfo = &info
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.notify()
	m.deps.Logger.Info().Str("request_id", created.ID).Msg("service requested")
	return created, nil
}

func (m *Manager) requireTechnicianLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.state.Role != models.RoleTechnician && m.state.Role != models.RoleAdmin {
		return fmt.Errorf("%w: %q", ErrForbidden, m.state.Role)
	}
	return nil
}

// AcceptServiceRequest assigns the request to this identity. The local state moves to accepted
// before the remote write and stays there if the write fails.
func (m *Manager) AcceptServiceRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	if err := m.requireTechnicianLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	techID := m.identity.ID
	techName := m.identity.label()
	row, known := m.findLocked(requestID)
	if known {
		if row.Status != models.RequestPending {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, requestID, row.Status)
		}
		row.Status = models.RequestAccepted
		row.TechnicianID = &techID
		if techName != "" {
			row.TechnicianName = &techName
		}
		info := models.InfoFromRequest(row)
		m.upsertLocked(row)
		m.state.CurrentServiceID = requestID
		m.state.Status = StatusAccepted
		m.state.ServiceInfo = &info
	}
	m.state.StatusChangeFlags[FlagKey(models.RequestAccepted, requestID)] = true
	m.persistLocked(ctx)
	m.mu.Unlock()
	m.notify()

	update := models.ServiceRequestUpdate{
		Status:       models.RequestAccepted,
		TechnicianID: &techID,
		ExpectFrom:   []models.RequestStatus{models.RequestPending},
	}
	if techName != "" {
		update.TechnicianName = &techName
	}
	cctx, cancel := m.call(ctx)
	updated, err := m.deps.Gateway.UpdateServiceRequest(cctx, requestID, update)
	cancel()
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("request_id", requestID).Msg("accept service request")
		return fmt.Errorf("accept %s: %w", requestID, err)
	}

	m.mu.Lock()
	if !m.closed {
		m.upsertLocked(updated)
		m.deriveLocked()
		m.persistLocked(ctx)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// RejectServiceRequest marks the request rejected. The local status is left alone; the next
// derivation pass drops the request from consideration.
func (m *Manager) RejectServiceRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	if err := m.requireTechnicianLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if row, known := m.findLocked(requestID); known && row.Status != models.RequestPending {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, requestID, row.Status)
	}
	m.state.StatusChangeFlags[FlagKey(models.RequestRejected, requestID)] = true
	m.mu.Unlock()
	m.notify()

	cctx, cancel := m.call(ctx)
	_, err := m.deps.Gateway.UpdateServiceRequest(cctx, requestID, models.ServiceRequestUpdate{
		Status:     models.RequestRejected,
		ExpectFrom: []models.RequestStatus{models.RequestPending},
	})
	cancel()
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("request_id", requestID).Msg("reject service request")
		return fmt.Errorf("reject %s: %w", requestID, err)
	}
	return nil
}

// StartMonitoring stamps the session start and moves to monitoring. Persisting the start on the
// remote row is best effort.
func (m *Manager) StartMonitoring(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.state.CurrentServiceID
	if id == "" {
		m.mu.Unlock()
		return ErrNoActiveRequest
	}
	if m.state.Status != StatusAccepted {
		status := m.state.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start monitoring from %s", ErrInvalidTransition, status)
	}
	now := m.deps.Now()
	if m.state.ServiceInfo != nil {
		info := *m.state.ServiceInfo
		info.StartTime = &now
		m.state.ServiceInfo = &info
	}
	if row, ok := m.findLocked(id); ok {
		row.Status = models.RequestMonitoring
		row.StartTime = &now
		m.upsertLocked(row)
	}
	m.state.Status = StatusMonitoring
	m.persistLocked(ctx)
	m.mu.Unlock()
	m.notify()

	cctx, cancel := m.call(ctx)
	_, err := m.deps.Gateway.UpdateServiceRequest(cctx, id, models.ServiceRequestUpdate{
		Status:     models.RequestMonitoring,
		StartTime:  &now,
		ExpectFrom: []models.RequestStatus{models.RequestAccepted},
	})
	cancel()
	if err != nil {
		m.deps.Logger.Warn().Err(err).Str("request_id", id).Msg("record monitoring start")
	}
	return nil
}

func (m *Manager) EndMonitoring(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.state.CurrentServiceID
	if id == "" {
		m.mu.Unlock()
		return ErrNoActiveRequest
	}
	if m.state.Status != StatusMonitoring {
		status := m.state.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot end monitoring from %s", ErrInvalidTransition, status)
	}
	now := m.deps.Now()
	if row, ok := m.findLocked(id); ok {
		row.Status = models.RequestCompleted
		row.CompletedAt = &now
		m.upsertLocked(row)
	}
	m.state.Status = StatusCompleted
	m.persistLocked(ctx)
	m.mu.Unlock()
	m.notify()

	cctx, cancel := m.call(ctx)
	_, err := m.deps.Gateway.UpdateServiceRequest(cctx, id, models.ServiceRequestUpdate{
		Status:      models.RequestCompleted,
		CompletedAt: &now,
		// the remote start is best effort, so the row may still read accepted
		ExpectFrom: []models.RequestStatus{models.RequestMonitoring, models.RequestAccepted},
	})
	cancel()
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("request_id", id).Msg("complete service request")
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

// TriggerEmergency raises the emergency flag and, with an active request, appends an alert.
// The flag stays raised when the alert cannot be stored.
func (m *Manager) TriggerEmergency(ctx context.Context) (*models.EmergencyAlert, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.state.EmergencyTriggered = true
	m.persistLocked(ctx)
	id := m.state.CurrentServiceID
	alert := models.EmergencyAlert{
		MonitoringSessionID: id,
		CustomerID:          m.identity.ID,
		AlertType:           models.AlertTypeEmergency,
		Location:            unknownLocation,
	}
	if m.state.ServiceInfo != nil && strings.TrimSpace(m.state.ServiceInfo.Location) != "" {
		alert.Location = m.state.ServiceInfo.Location
	}
	if row, ok := m.findLocked(id); ok {
		alert.CustomerID = row.CustomerID
		alert.TechnicianID = row.TechnicianID
	}
	m.mu.Unlock()
	m.notify()

	if id == "" {
		m.deps.Logger.Warn().Msg("emergency triggered without an active request")
		return nil, nil
	}

	cctx, cancel := m.call(ctx)
	created, err := m.deps.Gateway.CreateEmergencyAlert(cctx, alert)
	cancel()
	if err != nil {
		m.deps.Logger.Error().Err(err).Str("request_id", id).Msg("create emergency alert")
		return nil, fmt.Errorf("create emergency alert: %w", err)
	}
	m.deps.Logger.Warn().Str("request_id", id).Str("alert_id", created.ID).Msg("emergency alert raised")
	return &created, nil
}

// ResetService returns to idle and removes every durable key. The visible set is kept.
func (m *Manager) ResetService(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.resetLocked()
	err := m.clearStorage(ctx)
	m.mu.Unlock()
	m.notify()
	return err
}

func (m *Manager) resetLocked() {
	m.state.Status = StatusIdle
	m.state.ServiceInfo = nil
	m.state.EmergencyTriggered = false
	m.state.CurrentServiceID = ""
	m.state.UserType = ""
	m.state.StatusChangeFlags = map[string]bool{}
}

// LoginAs switches role: the session is reset, then re-derived under the new role.
func (m *Manager) LoginAs(ctx context.Context, role models.UserRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, role)
	}
	if err := m.ResetService(ctx); err != nil {
		return err
	}
	if err := m.SetRole(ctx, role); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// Logout resets the session and closes the manager.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.ResetService(ctx)
	m.Close()
	return err
}

func (m *Manager) ClearStatusChangeFlag(flag string) bool {
	m.mu.Lock()
	_, ok := m.state.StatusChangeFlags[flag]
	delete(m.state.StatusChangeFlags, flag)
	m.mu.Unlock()
	if ok {
		m.notify()
	}
	return ok
}

// Refresh fetches the visible set and runs a derivation pass over it. Technicians also see
// open unassigned requests, which are listed but never adopted as active.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.fetched++
	seq := m.fetched
	role := m.state.Role
	m.mu.Unlock()

	cctx, cancel := m.call(ctx)
	defer cancel()
	own, err := m.deps.Gateway.ListServiceRequests(cctx, m.identity.ID)
	if err != nil {
		m.deps.Logger.Error().Err(err).Msg("fetch service requests")
		return fmt.Errorf("fetch service requests: %w", err)
	}
	rows := own
	if role == models.RoleTechnician {
		open, err := m.deps.Gateway.ListOpenServiceRequests(cctx)
		if err != nil {
			m.deps.Logger.Error().Err(err).Msg("fetch open service requests")
			return fmt.Errorf("fetch open service requests: %w", err)
		}
		rows = mergeSnapshot(own, open)
	}
	m.applySnapshot(ctx, seq, rows)
	return nil
}

// ApplySnapshot feeds a fetched record set through the derivation pass.
func (m *Manager) ApplySnapshot(ctx context.Context, rows []models.ServiceRequest) {
	m.mu.Lock()
	m.fetched++
	seq := m.fetched
	m.mu.Unlock()
	m.applySnapshot(ctx, seq, rows)
}

func (m *Manager) applySnapshot(ctx context.Context, seq uint64, rows []models.ServiceRequest) {
	m.mu.Lock()
	// a response older than one already applied is dropped
	if m.closed || seq <= m.applied {
		m.mu.Unlock()
		return
	}
	m.applied = seq
	for _, flag := range statusFlags(m.state.ServiceRequests, rows) {
		m.state.StatusChangeFlags[flag] = true
	}
	m.state.ServiceRequests = mergeSnapshot(rows)
	m.deriveLocked()
	m.persistLocked(ctx)
	m.mu.Unlock()
	m.notify()
}

// Close stops Watch and wakes subscribers for the last time. Later operations return ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()
	m.updates.CloseAll()
}

func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
