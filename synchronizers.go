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

package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/healthbridge/bridge/database"
	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Errors that can never succeed on retry. Items failing with one of these are
// moved straight to FAILED.
var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrMissingEntityID   = errors.New("missing entity id")
)

const (
	defaultAppointmentDuration = 30
	defaultAppointmentType     = "IN_PERSON"
	defaultAppointmentStatus   = "SCHEDULED"
)

// Operation is one queued mutation handed to a synchronizer.
type Operation struct {
	Action   model.SyncAction
	EntityID string
	Payload  json.RawMessage
	UserID   string
}

// Synchronizer applies operations for one entity type to the canonical
// store and returns the resulting record.
type Synchronizer interface {
	Sync(ctx context.Context, op Operation) (interface{}, error)
}

func newSynchronizers(ds database.IDataSource) map[model.EntityType]Synchronizer {
	return map[model.EntityType]Synchronizer{
		model.EntityAppointment:    appointmentSynchronizer{ds: ds},
		model.EntityConsultation:   consultationSynchronizer{ds: ds},
		model.EntityHabitEntry:     habitEntrySynchronizer{ds: ds},
		model.EntityMedicationLog:  medicationLogSynchronizer{ds: ds},
		model.EntityMonitoringData: monitoringDataSynchronizer{ds: ds},
	}
}

func isPermanent(err error) bool {
	switch errors.Cause(err) {
	case ErrUnknownEntityType, ErrUnknownAction, ErrInvalidPayload, ErrMissingEntityID:
		return true
	}
	return false
}

func decodePayload(entity model.EntityType, raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "%s: %v", entity, err)
	}
	return nil
}

// targetID picks the record an UPDATE or DELETE applies to. The payload id
// wins over the item's entity id.
func targetID(payloadID *string, op Operation) (string, error) {
	if payloadID != nil && *payloadID != "" {
		return *payloadID, nil
	}
	if op.EntityID != "" {
		return op.EntityID, nil
	}
	return "", errors.Wrapf(ErrMissingEntityID, "%s requires payload.id", op.Action)
}

func unknownAction(entity model.EntityType, action model.SyncAction) error {
	return errors.Wrapf(ErrUnknownAction, "%s does not support %q", entity, action)
}

func stringOr(p *string, fallback string) string {
	if p != nil && *p != "" {
		return *p
	}
	return fallback
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return *t
	}
	return fallback
}

type appointmentSynchronizer struct {
	ds database.IDataSource
}

func (s appointmentSynchronizer) Sync(ctx context.Context, op Operation) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "SyncAppointment")
	defer span.End()
	span.SetAttributes(attribute.String("sync.action", string(op.Action)))

	var p model.AppointmentPayload
	if err := decodePayload(model.EntityAppointment, op.Payload, &p); err != nil {
		return nil, err
	}

	switch op.Action {
	case model.ActionCreate:
		return s.create(ctx, op, &p)
	case model.ActionUpdate:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		appt, err := s.ds.UpdateAppointment(ctx, op.UserID, id, &p)
		if err != nil {
			return nil, errors.Wrapf(err, "update appointment %s", id)
		}
		return appt, nil
	case model.ActionDelete:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		deleted, err := s.ds.DeleteAppointment(ctx, op.UserID, id)
		if err != nil {
			return nil, errors.Wrapf(err, "delete appointment %s", id)
		}
		return &model.DeletedEntity{ID: id, Deleted: deleted}, nil
	}
	return nil, unknownAction(model.EntityAppointment, op.Action)
}

// create is idempotent on (patient, provider, date): a replayed CREATE for
// a slot that is already booked updates that booking instead.
func (s appointmentSynchronizer) create(ctx context.Context, op Operation, p *model.AppointmentPayload) (interface{}, error) {
	if p.AppointmentDate == nil || p.AppointmentDate.IsZero() {
		return nil, errors.Wrap(ErrInvalidPayload, "appointment requires appointmentDate")
	}
	patientID := stringOr(p.PatientID, op.UserID)
	providerID := stringOr(p.ProviderID, "")
	if providerID == "" {
		return nil, errors.Wrap(ErrInvalidPayload, "appointment requires providerId")
	}

	if patientID != op.UserID && providerID != op.UserID {
		return nil, errors.Wrap(ErrInvalidPayload, "appointment must name the caller as patient or provider")
	}

	existing, err := s.ds.FindAppointment(ctx, patientID, providerID, *p.AppointmentDate)
	if err != nil {
		return nil, errors.Wrap(err, "find appointment")
	}
	if existing != nil {
		return s.updateExisting(ctx, op, existing, p)
	}

	appt := &model.Appointment{
		AppointmentID:   stringOr(p.ID, ""),
		PatientID:       patientID,
		ProviderID:      providerID,
		AppointmentDate: *p.AppointmentDate,
		Duration:        defaultAppointmentDuration,
		Type:            stringOr(p.Type, defaultAppointmentType),
		Status:          stringOr(p.Status, defaultAppointmentStatus),
		Reason:          stringOr(p.Reason, ""),
		Notes:           stringOr(p.Notes, ""),
	}
	if p.Duration != nil && *p.Duration > 0 {
		appt.Duration = *p.Duration
	}

	created, err := s.ds.CreateAppointment(ctx, appt)
	if err == nil {
		return created, nil
	}
	if !apierror.HasCode(err, apierror.ErrConflict) {
		return nil, errors.Wrap(err, "create appointment")
	}

	// Another run booked the slot between the lookup and the insert.
	existing, findErr := s.ds.FindAppointment(ctx, patientID, providerID, *p.AppointmentDate)
	if findErr != nil {
		return nil, errors.Wrap(findErr, "find appointment")
	}
	if existing == nil {
		return nil, errors.Wrap(err, "create appointment")
	}
	return s.updateExisting(ctx, op, existing, p)
}

func (s appointmentSynchronizer) updateExisting(ctx context.Context, op Operation, existing *model.Appointment, p *model.AppointmentPayload) (interface{}, error) {
	appt, err := s.ds.UpdateAppointment(ctx, op.UserID, existing.AppointmentID, p)
	if err != nil {
		return nil, errors.Wrapf(err, "update appointment %s", existing.AppointmentID)
	}
	return appt, nil
}

type consultationSynchronizer struct {
	ds database.IDataSource
}

func (s consultationSynchronizer) Sync(ctx context.Context, op Operation) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "SyncConsultation")
	defer span.End()

	var p model.ConsultationPayload
	if err := decodePayload(model.EntityConsultation, op.Payload, &p); err != nil {
		return nil, err
	}

	switch op.Action {
	case model.ActionCreate:
		note, err := s.ds.CreateConsultationNote(ctx, &model.ConsultationNote{
			NoteID:        stringOr(p.ID, ""),
			AppointmentID: stringOr(p.AppointmentID, ""),
			PatientID:     stringOr(p.PatientID, op.UserID),
			ProviderID:    stringOr(p.ProviderID, op.UserID),
			Notes:         stringOr(p.Notes, ""),
			Diagnosis:     stringOr(p.Diagnosis, ""),
			Prescription:  stringOr(p.Prescription, ""),
			FollowUpDate:  p.FollowUpDate,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create consultation note")
		}
		return note, nil
	case model.ActionUpdate:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		note, err := s.ds.UpdateConsultationNote(ctx, op.UserID, id, &p)
		if err != nil {
			return nil, errors.Wrapf(err, "update consultation note %s", id)
		}
		return note, nil
	}
	return nil, unknownAction(model.EntityConsultation, op.Action)
}

// Habit entries, medication logs and monitoring readings are self-reported,
// so CREATE always writes them under the calling user.

type habitEntrySynchronizer struct {
	ds database.IDataSource
}

func (s habitEntrySynchronizer) Sync(ctx context.Context, op Operation) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "SyncHabitEntry")
	defer span.End()

	var p model.HabitEntryPayload
	if err := decodePayload(model.EntityHabitEntry, op.Payload, &p); err != nil {
		return nil, err
	}

	switch op.Action {
	case model.ActionCreate:
		if stringOr(p.HabitID, "") == "" {
			return nil, errors.Wrap(ErrInvalidPayload, "habit entry requires habitId")
		}
		entry := &model.HabitEntry{
			EntryID:   stringOr(p.ID, ""),
			HabitID:   stringOr(p.HabitID, ""),
			PatientID: op.UserID,
			EntryDate: timeOr(p.EntryDate, time.Now().UTC().Truncate(24*time.Hour)),
			Value:     nullDecimal(p.Value),
			Notes:     stringOr(p.Notes, ""),
		}
		if p.Completed != nil {
			entry.Completed = *p.Completed
		}
		created, err := s.ds.CreateHabitEntry(ctx, entry)
		if err != nil {
			return nil, errors.Wrap(err, "create habit entry")
		}
		return created, nil
	case model.ActionUpdate:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		entry, err := s.ds.UpdateHabitEntry(ctx, op.UserID, id, &p)
		if err != nil {
			return nil, errors.Wrapf(err, "update habit entry %s", id)
		}
		return entry, nil
	}
	return nil, unknownAction(model.EntityHabitEntry, op.Action)
}

type medicationLogSynchronizer struct {
	ds database.IDataSource
}

func (s medicationLogSynchronizer) Sync(ctx context.Context, op Operation) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "SyncMedicationLog")
	defer span.End()

	var p model.MedicationLogPayload
	if err := decodePayload(model.EntityMedicationLog, op.Payload, &p); err != nil {
		return nil, err
	}

	switch op.Action {
	case model.ActionCreate:
		if stringOr(p.MedicationID, "") == "" {
			return nil, errors.Wrap(ErrInvalidPayload, "medication log requires medicationId")
		}
		entry := &model.MedicationLog{
			LogID:        stringOr(p.ID, ""),
			MedicationID: stringOr(p.MedicationID, ""),
			PatientID:    op.UserID,
			TakenAt:      timeOr(p.TakenAt, time.Now().UTC()),
			Dose:         nullDecimal(p.Dose),
			Unit:         stringOr(p.Unit, ""),
			Notes:        stringOr(p.Notes, ""),
		}
		if p.Skipped != nil {
			entry.Skipped = *p.Skipped
		}
		created, err := s.ds.CreateMedicationLog(ctx, entry)
		if err != nil {
			return nil, errors.Wrap(err, "create medication log")
		}
		return created, nil
	case model.ActionUpdate:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		entry, err := s.ds.UpdateMedicationLog(ctx, op.UserID, id, &p)
		if err != nil {
			return nil, errors.Wrapf(err, "update medication log %s", id)
		}
		return entry, nil
	}
	return nil, unknownAction(model.EntityMedicationLog, op.Action)
}

type monitoringDataSynchronizer struct {
	ds database.IDataSource
}

func (s monitoringDataSynchronizer) Sync(ctx context.Context, op Operation) (interface{}, error) {
	ctx, span := tracer.Start(ctx, "SyncMonitoringData")
	defer span.End()

	var p model.MonitoringDataPayload
	if err := decodePayload(model.EntityMonitoringData, op.Payload, &p); err != nil {
		return nil, err
	}

	switch op.Action {
	case model.ActionCreate:
		if stringOr(p.ReadingType, "") == "" {
			return nil, errors.Wrap(ErrInvalidPayload, "monitoring reading requires type")
		}
		reading := &model.MonitoringData{
			ReadingID:   stringOr(p.ID, ""),
			PatientID:   op.UserID,
			ReadingType: stringOr(p.ReadingType, ""),
			Unit:        stringOr(p.Unit, ""),
			RecordedAt:  timeOr(p.RecordedAt, time.Now().UTC()),
			Notes:       stringOr(p.Notes, ""),
		}
		if p.Value != nil {
			reading.Value = *p.Value
		}
		created, err := s.ds.CreateMonitoringData(ctx, reading)
		if err != nil {
			return nil, errors.Wrap(err, "create monitoring reading")
		}
		return created, nil
	case model.ActionUpdate:
		id, err := targetID(p.ID, op)
		if err != nil {
			return nil, err
		}
		reading, err := s.ds.UpdateMonitoringData(ctx, op.UserID, id, &p)
		if err != nil {
			return nil, errors.Wrapf(err, "update monitoring reading %s", id)
		}
		return reading, nil
	}
	return nil, unknownAction(model.EntityMonitoringData, op.Action)
}
