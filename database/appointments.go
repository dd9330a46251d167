/*
Copyright 2024 HealthBridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/lib/pq"
)

const appointmentColumns = `id, appointment_id, patient_id, provider_id, appointment_date, duration, type, status, reason, notes, created_at, updated_at`

func scanAppointment(row rowScanner) (*model.Appointment, error) {
	var (
		appt          model.Appointment
		reason, notes sql.NullString
	)
	err := row.Scan(
		&appt.ID,
		&appt.AppointmentID,
		&appt.PatientID,
		&appt.ProviderID,
		&appt.AppointmentDate,
		&appt.Duration,
		&appt.Type,
		&appt.Status,
		&reason,
		&notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appt.Reason = reason.String
	appt.Notes = notes.String
	return &appt, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// CreateAppointment inserts a booking. A second booking for the same
// patient, provider and date is rejected with CONFLICT.
func (d Datasource) CreateAppointment(ctx context.Context, appt *model.Appointment) (*model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "CreateAppointment")
	defer span.End()

	if appt.AppointmentID == "" {
		appt.AppointmentID = model.GenerateUUIDWithSuffix("appt")
	}

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.appointments (appointment_id, patient_id, provider_id, appointment_date, duration, type, status, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		appt.AppointmentID, appt.PatientID, appt.ProviderID, appt.AppointmentDate, appt.Duration,
		appt.Type, appt.Status, nullString(appt.Reason), nullString(appt.Notes))

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Appointment already exists for this slot", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create appointment", err)
	}
	return created, nil
}

// FindAppointment looks up the booking for an exact slot. It returns nil
// without error when there is none.
func (d Datasource) FindAppointment(ctx context.Context, patientID, providerID string, date time.Time) (*model.Appointment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM bridge.appointments
		WHERE patient_id = $1 AND provider_id = $2 AND appointment_date = $3
		LIMIT 1
	`, patientID, providerID, date)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up appointment", err)
	}
	return appt, nil
}

// UpdateAppointment applies the non-nil fields of patch. Only the patient or
// the provider on the booking may change it.
func (d Datasource) UpdateAppointment(ctx context.Context, ownerID string, id string, patch *model.AppointmentPayload) (*model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "UpdateAppointment")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.appointments
		SET provider_id = COALESCE($3, provider_id),
			appointment_date = COALESCE($4, appointment_date),
			duration = COALESCE($5, duration),
			type = COALESCE($6, type),
			status = COALESCE($7, status),
			reason = COALESCE($8, reason),
			notes = COALESCE($9, notes),
			updated_at = NOW()
		WHERE appointment_id = $1 AND (patient_id = $2 OR provider_id = $2)
		RETURNING `+appointmentColumns,
		id, ownerID, patch.ProviderID, patch.AppointmentDate, patch.Duration,
		patch.Type, patch.Status, patch.Reason, patch.Notes)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Appointment '%s' not found", id), nil)
		}
		if isUniqueViolation(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Appointment already exists for this slot", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update appointment", err)
	}
	return appt, nil
}

// DeleteAppointment reports whether a row was removed.
func (d Datasource) DeleteAppointment(ctx context.Context, ownerID string, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM bridge.appointments
		WHERE appointment_id = $1 AND (patient_id = $2 OR provider_id = $2)
	`, id, ownerID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete appointment", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n > 0, nil
}
