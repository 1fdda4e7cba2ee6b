package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safevisit/backend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const requestColumns = `id, customer_id, technician_id, customer_name, technician_name, service_type, location,
	description, scheduled_date, scheduled_time, status, start_time, completed_at, created_at, updated_at`

type Store struct {
	Pool *pgxpool.Pool
}

var _ Gateway = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanRequest(row pgx.Row) (models.ServiceRequest, error) {
	var (
		r      models.ServiceRequest
		status string
	)
	err := row.Scan(&r.ID, &r.CustomerID, &r.TechnicianID, &r.CustomerName, &r.TechnicianName, &r.ServiceType, &r.Location,
		&r.Description, &r.ScheduledDate, &r.ScheduledTime, &status, &r.StartTime, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServiceRequest{}, ErrNotFound
		}
		return models.ServiceRequest{}, err
	}
	r.Status = models.RequestStatus(status)
	return r, nil
}

func collectRequests(rows pgx.Rows) ([]models.ServiceRequest, error) {
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListServiceRequests(ctx context.Context, userID string) ([]models.ServiceRequest, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE customer_id = $1 OR technician_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (s *Store) ListOpenServiceRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE status = 'pending' AND technician_id IS NULL
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (s *Store) GetServiceRequest(ctx context.Context, id string) (models.ServiceRequest, error) {
	return scanRequest(s.Pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id))
}

func (s *Store) CreateServiceRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error) {
	if r.Status == "" {
		r.Status = models.RequestPending
	}
	return scanRequest(s.Pool.QueryRow(ctx, `
		INSERT INTO service_requests (customer_id, technician_id, customer_name, technician_name, service_type, location,
			description, scheduled_date, scheduled_time, status, start_time, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,NULL)
		RETURNING `+requestColumns,
		r.CustomerID, r.TechnicianID, r.CustomerName, r.TechnicianName, r.ServiceType, r.Location,
		r.Description, r.ScheduledDate, r.ScheduledTime, string(r.Status)))
}

func (s *Store) UpdateServiceRequest(ctx context.Context, id string, u models.ServiceRequestUpdate) (models.ServiceRequest, error) {
	sets := []string{"updated_at = NOW()"}
	var args []any
	if u.Status != "" {
		args = append(args, string(u.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if u.TechnicianID != nil {
		args = append(args, *u.TechnicianID)
		sets = append(sets, fmt.Sprintf("technician_id = $%d", len(args)))
	}
	if u.TechnicianName != nil {
		args = append(args, *u.TechnicianName)
		sets = append(sets, fmt.Sprintf("technician_name = $%d", len(args)))
	}
	if u.StartTime != nil {
		args = append(args, *u.StartTime)
		sets = append(sets, fmt.Sprintf("start_time = $%d", len(args)))
	}
	if u.CompletedAt != nil {
		args = append(args, *u.CompletedAt)
		sets = append(sets, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	args = append(args, id)
	query := "UPDATE service_requests SET " + strings.Join(sets, ", ") + fmt.Sprintf(" WHERE id = $%d", len(args))
	if len(u.ExpectFrom) > 0 {
		args = append(args, statusStrings(u.ExpectFrom))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " RETURNING " + requestColumns

	updated, err := scanRequest(s.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		var exists bool
		if qerr := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM service_requests WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return models.ServiceRequest{}, qerr
		}
		if exists {
			return models.ServiceRequest{}, ErrConflict
		}
	}
	return updated, err
}

func (s *Store) ListSafetyPartners(ctx context.Context, userID string) ([]models.SafetyPartner, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, user_id, name, phone_number, relationship, is_primary, created_at, updated_at
		FROM safety_partners WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SafetyPartner
	for rows.Next() {
		var p models.SafetyPartner
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.PhoneNumber, &p.Relationship, &p.IsPrimary, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateSafetyPartner(ctx context.Context, p models.SafetyPartner) (models.SafetyPartner, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if p.IsPrimary {
			if _, err := tx.Exec(ctx, `UPDATE safety_partners SET is_primary = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_primary`, p.UserID); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO safety_partners (user_id, name, phone_number, relationship, is_primary)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, created_at, updated_at`,
			p.UserID, p.Name, p.PhoneNumber, p.Relationship, p.IsPrimary).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	})
	if err != nil {
		return models.SafetyPartner{}, err
	}
	return p, nil
}

func (s *Store) DeleteSafetyPartner(ctx context.Context, userID, partnerID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM safety_partners WHERE id = $1 AND user_id = $2`, partnerID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, display_name, phone_number, avatar_url, created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.DisplayName, &p.PhoneNumber, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	return p, err
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, u models.ProfileUpdate) (models.Profile, error) {
	var p models.Profile
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO profiles (user_id, display_name, phone_number, avatar_url)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, profiles.display_name),
			phone_number = COALESCE(EXCLUDED.phone_number, profiles.phone_number),
			avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
			updated_at = NOW()
		RETURNING id, user_id, display_name, phone_number, avatar_url, created_at, updated_at`,
		userID, u.DisplayName, u.PhoneNumber, u.AvatarURL).
		Scan(&p.ID, &p.UserID, &p.DisplayName, &p.PhoneNumber, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreateEmergencyAlert(ctx context.Context, a models.EmergencyAlert) (models.EmergencyAlert, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO emergency_alerts (monitoring_session_id, customer_id, technician_id, alert_type, location)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		a.MonitoringSessionID, a.CustomerID, a.TechnicianID, a.AlertType, a.Location).Scan(&a.ID, &a.CreatedAt)
	return a, err
}

func (s *Store) ListEmergencyAlerts(ctx context.Context, sessionID string) ([]models.EmergencyAlert, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, monitoring_session_id, customer_id, technician_id, alert_type, location, created_at
		FROM emergency_alerts WHERE monitoring_session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmergencyAlert
	for rows.Next() {
		var a models.EmergencyAlert
		if err := rows.Scan(&a.ID, &a.MonitoringSessionID, &a.CustomerID, &a.TechnicianID, &a.AlertType, &a.Location, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	var role string
	err := s.Pool.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return models.UserRole(role), err
}

func (s *Store) SetUserRole(ctx context.Context, userID string, role models.UserRole) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()`, userID, string(role))
	return err
}

func (s *Store) ListTechnicians(ctx context.Context, onlyAvailable bool) ([]models.TechnicianProfile, error) {
	query := `SELECT id, user_id, display_name, specialties, service_areas, rating, total_services, is_available, bio, lat, lon, updated_at
		FROM technician_profiles`
	if onlyAvailable {
		query += " WHERE is_available"
	}
	query += " ORDER BY rating DESC, total_services DESC, user_id ASC"

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TechnicianProfile
	for rows.Next() {
		var t models.TechnicianProfile
		if err := rows.Scan(&t.ID, &t.UserID, &t.DisplayName, &t.Specialties, &t.ServiceAreas, &t.Rating, &t.TotalServices,
			&t.IsAvailable, &t.Bio, &t.Lat, &t.Lon, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertTechnicians(ctx context.Context, techs []models.TechnicianProfile) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range techs {
			batch.Queue(`
				INSERT INTO technician_profiles (user_id, display_name, specialties, service_areas, rating, total_services, is_available, bio, lat, lon)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (user_id) DO UPDATE SET
					display_name = EXCLUDED.display_name,
					specialties = EXCLUDED.specialties,
					service_areas = EXCLUDED.service_areas,
					is_available = EXCLUDED.is_available,
					bio = EXCLUDED.bio,
					lat = EXCLUDED.lat,
					lon = EXCLUDED.lon,
					updated_at = NOW()`,
				t.UserID, t.DisplayName, t.Specialties, t.ServiceAreas, t.Rating, t.TotalServices, t.IsAvailable, t.Bio, t.Lat, t.Lon)
			batch.Queue(`
				INSERT INTO user_roles (user_id, role) VALUES ($1, 'technician')
				ON CONFLICT (user_id) DO UPDATE SET role = 'technician', updated_at = NOW()`, t.UserID)
		}
		results := tx.SendBatch(ctx, batch)
		for range techs {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return err
			}
			n += tag.RowsAffected()
			if _, err := results.Exec(); err != nil {
				results.Close()
				return err
			}
		}
		return results.Close()
	})
	return n, err
}

func (s *Store) CreateReview(ctx context.Context, r models.ServiceReview) (models.ServiceReview, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, r.ServiceRequestID))
		if err != nil {
			return err
		}
		if req.CustomerID != r.CustomerID || req.Status != models.RequestCompleted || req.TechnicianID == nil {
			return ErrPrecondition
		}
		r.TechnicianID = *req.TechnicianID

		err = tx.QueryRow(ctx, `
			INSERT INTO service_reviews (service_request_id, customer_id, technician_id, rating, comment)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, created_at`,
			r.ServiceRequestID, r.CustomerID, r.TechnicianID, r.Rating, r.Comment).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrConflict
			}
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE technician_profiles
			SET rating = (rating * total_services + $1) / (total_services + 1),
				total_services = total_services + 1,
				updated_at = NOW()
			WHERE user_id = $2`, float64(r.Rating), r.TechnicianID)
		return err
	})
	if err != nil {
		return models.ServiceReview{}, err
	}
	return r, nil
}
