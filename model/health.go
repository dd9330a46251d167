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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical records written by the entity synchronizers.

type Appointment struct {
	ID              int64     `json:"-"`
	AppointmentID   string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	ProviderID      string    `json:"provider_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	Duration        int       `json:"duration"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ConsultationNote struct {
	ID            int64      `json:"-"`
	NoteID        string     `json:"id"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	PatientID     string     `json:"patient_id"`
	ProviderID    string     `json:"provider_id"`
	Notes         string     `json:"notes"`
	Diagnosis     string     `json:"diagnosis,omitempty"`
	Prescription  string     `json:"prescription,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type HabitEntry struct {
	ID        int64               `json:"-"`
	EntryID   string              `json:"id"`
	HabitID   string              `json:"habit_id"`
	PatientID string              `json:"patient_id"`
	EntryDate time.Time           `json:"entry_date"`
	Completed bool                `json:"completed"`
	Value     decimal.NullDecimal `json:"value"`
	Notes     string              `json:"notes,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type MedicationLog struct {
	ID           int64               `json:"-"`
	LogID        string              `json:"id"`
	MedicationID string              `json:"medication_id"`
	PatientID    string              `json:"patient_id"`
	TakenAt      time.Time           `json:"taken_at"`
	Dose         decimal.NullDecimal `json:"dose"`
	Unit         string              `json:"unit,omitempty"`
	Skipped      bool                `json:"skipped"`
	Notes        string              `json:"notes,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type MonitoringData struct {
	ID          int64           `json:"-"`
	ReadingID   string          `json:"id"`
	PatientID   string          `json:"patient_id"`
	ReadingType string          `json:"reading_type"`
	Value       decimal.Decimal `json:"value"`
	Unit        string          `json:"unit,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DeletedEntity is the result of a replayed DELETE.
type DeletedEntity struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Payloads are the client field sets stored in QueueItem.Payload. They use the
// mobile client's camelCase keys. Nil fields are left untouched on UPDATE.

type AppointmentPayload struct {
	ID              *string    `json:"id"`
	PatientID       *string    `json:"patientId"`
	ProviderID      *string    `json:"providerId"`
	AppointmentDate *time.Time `json:"appointmentDate"`
	Duration        *int       `json:"duration"`
	Type            *string    `json:"type"`
	Status          *string    `json:"status"`
	Reason          *string    `json:"reason"`
	Notes           *string    `json:"notes"`
}

type ConsultationPayload struct {
	ID            *string    `json:"id"`
	AppointmentID *string    `json:"appointmentId"`
	PatientID     *string    `json:"patientId"`
	ProviderID    *string    `json:"providerId"`
	Notes         *string    `json:"notes"`
	Diagnosis     *string    `json:"diagnosis"`
	Prescription  *string    `json:"prescription"`
	FollowUpDate  *time.Time `json:"followUpDate"`
}

type HabitEntryPayload struct {
	ID        *string          `json:"id"`
	HabitID   *string          `json:"habitId"`
	PatientID *string          `json:"patientId"`
	EntryDate *time.Time       `json:"date"`
	Completed *bool            `json:"completed"`
	Value     *decimal.Decimal `json:"value"`
	Notes     *string          `json:"notes"`
}

type MedicationLogPayload struct {
	ID           *string          `json:"id"`
	MedicationID *string          `json:"medicationId"`
	PatientID    *string          `json:"patientId"`
	TakenAt      *time.Time       `json:"takenAt"`
	Dose         *decimal.Decimal `json:"dose"`
	Unit         *string          `json:"unit"`
	Skipped      *bool            `json:"skipped"`
	Notes        *string          `json:"notes"`
}

type MonitoringDataPayload struct {
	ID          *string          `json:"id"`
	PatientID   *string          `json:"patientId"`
	ReadingType *string          `json:"type"`
	Value       *decimal.Decimal `json:"value"`
	Unit        *string          `json:"unit"`
	RecordedAt  *time.Time       `json:"recordedAt"`
	Notes       *string          `json:"notes"`
}
