package lifecycle

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/safevisit/backend/internal/models"
)

const (
	KeyServiceStatus      = "serviceStatus"
	KeyServiceInfo        = "serviceInfo"
	KeyEmergencyTriggered = "emergencyTriggered"
	KeyUserType           = "userType"
	KeyCurrentServiceID   = "currentServiceId"
)

var durableKeys = []string{KeyServiceStatus, KeyServiceInfo, KeyEmergencyTriggered, KeyUserType, KeyCurrentServiceID}

func DurableKeys() []string {
	return append([]string(nil), durableKeys...)
}

// persistLocked mirrors the durable fields into storage. Caller holds m.mu.
// Storage failures are logged and never fail the operation.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.deps.Storage == nil {
		return
	}
	log := m.deps.Logger
	set := func(key, value string) {
		if err := m.deps.Storage.Set(ctx, key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("persist session key")
		}
	}
	del := func(key string) {
		if err := m.deps.Storage.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("clear session key")
		}
	}

	set(KeyServiceStatus, string(m.state.Status))
	if m.state.ServiceInfo != nil {
		raw, err := json.Marshal(m.state.ServiceInfo)
		if err != nil {
			log.Error().Err(err).Msg("encode service info")
		} else {
			set(KeyServiceInfo, string(raw))
		}
	} else {
		del(KeyServiceInfo)
	}
	set(KeyEmergencyTriggered, strconv.FormatBool(m.state.EmergencyTriggered))
	if m.state.UserType == models.RoleCustomer || m.state.UserType == models.RoleTechnician {
		set(KeyUserType, string(m.state.UserType))
	} else {
		del(KeyUserType)
	}
	if m.state.CurrentServiceID != "" {
		set(KeyCurrentServiceID, m.state.CurrentServiceID)
	} else {
		del(KeyCurrentServiceID)
	}
}

// Restore reloads the durable fields written by a previous session of the same identity.
// Absent or unreadable keys leave the corresponding field at its current value.
func (m *Manager) Restore(ctx context.Context) error {
	if m.deps.Storage == nil {
		return nil
	}
	vals := make(map[string]string, len(durableKeys))
	for _, k := range durableKeys {
		v, ok, err := m.deps.Storage.Get(ctx, k)
		if err != nil {
			m.deps.Logger.Error().Err(err).Str("key", k).Msg("restore session key")
			return err
		}
		if ok {
			vals[k] = v
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if v, ok := vals[KeyServiceStatus]; ok && Status(v).Valid() {
		m.state.Status = Status(v)
	}
	if v, ok := vals[KeyServiceInfo]; ok {
		var info models.ServiceInfo
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			m.deps.Logger.Warn().Err(err).Msg("discarding unreadable service info")
		} else {
			m.state.ServiceInfo = &info
		}
	}
	if v, ok := vals[KeyEmergencyTriggered]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			m.state.EmergencyTriggered = b
		}
	}
	if v, ok := vals[KeyUserType]; ok {
		if role := models.UserRole(v); role == models.RoleCustomer || role == models.RoleTechnician {
			m.state.UserType = role
			if m.state.Role == "" {
				m.state.Role = role
			}
		}
	}
	if v, ok := vals[KeyCurrentServiceID]; ok {
		m.state.CurrentServiceID = v
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *Manager) clearStorage(ctx context.Context) error {
	if m.deps.Storage == nil {
		return nil
	}
	if err := m.deps.Storage.Delete(ctx, durableKeys...); err != nil {
		m.deps.Logger.Error().Err(err).Msg("clear session storage")
		return err
	}
	return nil
}
