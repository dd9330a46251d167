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

	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
)

// Canonical stores for the patient-recorded entities. Updates patch only the
// fields a client sent and are limited to rows the caller owns.

func notFoundOr(err error, entity, id, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s '%s' not found", entity, id), nil)
	}
	if isUniqueViolation(err) {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("%s '%s' already exists", entity, id), err)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to %s %s", action, entity), err)
}

const consultationColumns = `id, note_id, appointment_id, patient_id, provider_id, notes, diagnosis, prescription, follow_up_date, created_at, updated_at`

func scanConsultationNote(row rowScanner) (*model.ConsultationNote, error) {
	var (
		note                               model.ConsultationNote
		appointmentID, diagnosis, prescrip sql.NullString
		followUp                           sql.NullTime
	)
	err := row.Scan(&note.ID, &note.NoteID, &appointmentID, &note.PatientID, &note.ProviderID, &note.Notes,
		&diagnosis, &prescrip, &followUp, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, err
	}
	note.AppointmentID = appointmentID.String
	note.Diagnosis = diagnosis.String
	note.Prescription = prescrip.String
	if followUp.Valid {
		note.FollowUpDate = &followUp.Time
	}
	return &note, nil
}

func (d Datasource) CreateConsultationNote(ctx context.Context, note *model.ConsultationNote) (*model.ConsultationNote, error) {
	ctx, span := tracer.Start(ctx, "CreateConsultationNote")
	defer span.End()

	if note.NoteID == "" {
		note.NoteID = model.GenerateUUIDWithSuffix("note")
	}
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.consultation_notes (note_id, appointment_id, patient_id, provider_id, notes, diagnosis, prescription, follow_up_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+consultationColumns,
		note.NoteID, nullString(note.AppointmentID), note.PatientID, note.ProviderID, note.Notes,
		nullString(note.Diagnosis), nullString(note.Prescription), note.FollowUpDate)

	created, err := scanConsultationNote(row)
	if err != nil {
		return nil, notFoundOr(err, "Consultation note", note.NoteID, "create")
	}
	return created, nil
}

func (d Datasource) UpdateConsultationNote(ctx context.Context, ownerID string, id string, patch *model.ConsultationPayload) (*model.ConsultationNote, error) {
	ctx, span := tracer.Start(ctx, "UpdateConsultationNote")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.consultation_notes
		SET appointment_id = COALESCE($3, appointment_id),
			notes = COALESCE($4, notes),
			diagnosis = COALESCE($5, diagnosis),
			prescription = COALESCE($6, prescription),
			follow_up_date = COALESCE($7, follow_up_date),
			updated_at = NOW()
		WHERE note_id = $1 AND (patient_id = $2 OR provider_id = $2)
		RETURNING `+consultationColumns,
		id, ownerID, patch.AppointmentID, patch.Notes, patch.Diagnosis, patch.Prescription, patch.FollowUpDate)

	note, err := scanConsultationNote(row)
	if err != nil {
		return nil, notFoundOr(err, "Consultation note", id, "update")
	}
	return note, nil
}

const habitEntryColumns = `id, entry_id, habit_id, patient_id, entry_date, completed, value, notes, created_at, updated_at`

func scanHabitEntry(row rowScanner) (*model.HabitEntry, error) {
	var (
		entry model.HabitEntry
		notes sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.EntryID, &entry.HabitID, &entry.PatientID, &entry.EntryDate,
		&entry.Completed, &entry.Value, &notes, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Notes = notes.String
	return &entry, nil
}

func (d Datasource) CreateHabitEntry(ctx context.Context, entry *model.HabitEntry) (*model.HabitEntry, error) {
	ctx, span := tracer.Start(ctx, "CreateHabitEntry")
	defer span.End()

	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("habit")
	}
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.habit_entries (entry_id, habit_id, patient_id, entry_date, completed, value, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+habitEntryColumns,
		entry.EntryID, entry.HabitID, entry.PatientID, entry.EntryDate, entry.Completed, entry.Value, nullString(entry.Notes))

	created, err := scanHabitEntry(row)
	if err != nil {
		return nil, notFoundOr(err, "Habit entry", entry.EntryID, "create")
	}
	return created, nil
}

func (d Datasource) UpdateHabitEntry(ctx context.Context, ownerID string, id string, patch *model.HabitEntryPayload) (*model.HabitEntry, error) {
	ctx, span := tracer.Start(ctx, "UpdateHabitEntry")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.habit_entries
		SET entry_date = COALESCE($3, entry_date),
			completed = COALESCE($4, completed),
			value = COALESCE($5, value),
			notes = COALESCE($6, notes),
			updated_at = NOW()
		WHERE entry_id = $1 AND patient_id = $2
		RETURNING `+habitEntryColumns,
		id, ownerID, patch.EntryDate, patch.Completed, patch.Value, patch.Notes)

	entry, err := scanHabitEntry(row)
	if err != nil {
		return nil, notFoundOr(err, "Habit entry", id, "update")
	}
	return entry, nil
}

const medicationLogColumns = `id, log_id, medication_id, patient_id, taken_at, dose, unit, skipped, notes, created_at, updated_at`

func scanMedicationLog(row rowScanner) (*model.MedicationLog, error) {
	var (
		entry       model.MedicationLog
		unit, notes sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.LogID, &entry.MedicationID, &entry.PatientID, &entry.TakenAt,
		&entry.Dose, &unit, &entry.Skipped, &notes, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Unit = unit.String
	entry.Notes = notes.String
	return &entry, nil
}

func (d Datasource) CreateMedicationLog(ctx context.Context, entry *model.MedicationLog) (*model.MedicationLog, error) {
	ctx, span := tracer.Start(ctx, "CreateMedicationLog")
	defer span.End()

	if entry.LogID == "" {
		entry.LogID = model.GenerateUUIDWithSuffix("med")
	}
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.medication_logs (log_id, medication_id, patient_id, taken_at, dose, unit, skipped, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+medicationLogColumns,
		entry.LogID, entry.MedicationID, entry.PatientID, entry.TakenAt, entry.Dose,
		nullString(entry.Unit), entry.Skipped, nullString(entry.Notes))

	created, err := scanMedicationLog(row)
	if err != nil {
		return nil, notFoundOr(err, "Medication log", entry.LogID, "create")
	}
	return created, nil
}

func (d Datasource) UpdateMedicationLog(ctx context.Context, ownerID string, id string, patch *model.MedicationLogPayload) (*model.MedicationLog, error) {
	ctx, span := tracer.Start(ctx, "UpdateMedicationLog")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.medication_logs
		SET taken_at = COALESCE($3, taken_at),
			dose = COALESCE($4, dose),
			unit = COALESCE($5, unit),
			skipped = COALESCE($6, skipped),
			notes = COALESCE($7, notes),
			updated_at = NOW()
		WHERE log_id = $1 AND patient_id = $2
		RETURNING `+medicationLogColumns,
		id, ownerID, patch.TakenAt, patch.Dose, patch.Unit, patch.Skipped, patch.Notes)

	entry, err := scanMedicationLog(row)
	if err != nil {
		return nil, notFoundOr(err, "Medication log", id, "update")
	}
	return entry, nil
}

const monitoringColumns = `id, reading_id, patient_id, reading_type, value, unit, recorded_at, notes, created_at, updated_at`

func scanMonitoringData(row rowScanner) (*model.MonitoringData, error) {
	var (
		reading     model.MonitoringData
		unit, notes sql.NullString
	)
	err := row.Scan(&reading.ID, &reading.ReadingID, &reading.PatientID, &reading.ReadingType, &reading.Value,
		&unit, &reading.RecordedAt, &notes, &reading.CreatedAt, &reading.UpdatedAt)
	if err != nil {
		return nil, err
	}
	reading.Unit = unit.String
	reading.Notes = notes.String
	return &reading, nil
}

func (d Datasource) CreateMonitoringData(ctx context.Context, reading *model.MonitoringData) (*model.MonitoringData, error) {
	ctx, span := tracer.Start(ctx, "CreateMonitoringData")
	defer span.End()

	if reading.ReadingID == "" {
		reading.ReadingID = model.GenerateUUIDWithSuffix("reading")
	}
	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.monitoring_data (reading_id, patient_id, reading_type, value, unit, recorded_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+monitoringColumns,
		reading.ReadingID, reading.PatientID, reading.ReadingType, reading.Value,
		nullString(reading.Unit), reading.RecordedAt, nullString(reading.Notes))

	created, err := scanMonitoringData(row)
	if err != nil {
		return nil, notFoundOr(err, "Monitoring reading", reading.ReadingID, "create")
	}
	return created, nil
}

func (d Datasource) UpdateMonitoringData(ctx context.Context, ownerID string, id string, patch *model.MonitoringDataPayload) (*model.MonitoringData, error) {
	ctx, span := tracer.Start(ctx, "UpdateMonitoringData")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.monitoring_data
		SET reading_type = COALESCE($3, reading_type),
			value = COALESCE($4, value),
			unit = COALESCE($5, unit),
			recorded_at = COALESCE($6, recorded_at),
			notes = COALESCE($7, notes),
			updated_at = NOW()
		WHERE reading_id = $1 AND patient_id = $2
		RETURNING `+monitoringColumns,
		id, ownerID, patch.ReadingType, patch.Value, patch.Unit, patch.RecordedAt, patch.Notes)

	reading, err := scanMonitoringData(row)
	if err != nil {
		return nil, notFoundOr(err, "Monitoring reading", id, "update")
	}
	return reading, nil
}
