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
	"time"

	"github.com/healthbridge/bridge/model"
)

// IDataSource groups the queue store and the canonical record stores.
type IDataSource interface {
	syncQueue
	appointment
	consultation
	habitEntry
	medicationLog
	monitoringData
}

// syncQueue is the durable store of staged client operations. Every state
// change is a conditional update keyed by the expected prior status.
type syncQueue interface {
	CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error)
	GetQueueItem(ctx context.Context, userID, itemID string) (*model.QueueItem, error)
	// GetClaimCandidates returns PENDING, non-exhausted item ids ordered by
	// retry count then age.
	GetClaimCandidates(ctx context.Context, userID string, limit, maxRetries int) ([]string, error)
	// TryClaim moves the listed items from one status to another and returns
	// only the ids whose status still matched.
	TryClaim(ctx context.Context, userID string, ids []string, from, to model.QueueStatus) ([]string, error)
	GetQueueItemsByIDs(ctx context.Context, userID string, ids []string, status model.QueueStatus) ([]*model.QueueItem, error)
	MarkQueueItemSynced(ctx context.Context, itemID string) error
	MarkQueueItemFailed(ctx context.Context, itemID, errMsg string, maxRetries int, permanent bool) (model.QueueStatus, int, error)
	ReconcileQueue(ctx context.Context, userID string, orphanTimeout time.Duration, maxRetries int) (model.ReconcileReport, error)
	GetQueueStats(ctx context.Context, userID string, maxRetries int) (*model.SyncStatus, error)
	GetQueueItems(ctx context.Context, userID string, status model.QueueStatus, limit, offset int) ([]*model.QueueItem, error)
	ResetFailedQueueItems(ctx context.Context, userID string) (int64, error)
	GetUsersNeedingReconcile(ctx context.Context, orphanTimeout time.Duration, maxRetries, limit int) ([]string, error)
}

type appointment interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment) (*model.Appointment, error)
	FindAppointment(ctx context.Context, patientID, providerID string, date time.Time) (*model.Appointment, error)
	UpdateAppointment(ctx context.Context, ownerID string, id string, patch *model.AppointmentPayload) (*model.Appointment, error)
	DeleteAppointment(ctx context.Context, ownerID string, id string) (bool, error)
}

type consultation interface {
	CreateConsultationNote(ctx context.Context, note *model.ConsultationNote) (*model.ConsultationNote, error)
	UpdateConsultationNote(ctx context.Context, ownerID string, id string, patch *model.ConsultationPayload) (*model.ConsultationNote, error)
}

type habitEntry interface {
	CreateHabitEntry(ctx context.Context, entry *model.HabitEntry) (*model.HabitEntry, error)
	UpdateHabitEntry(ctx context.Context, ownerID string, id string, patch *model.HabitEntryPayload) (*model.HabitEntry, error)
}

type medicationLog interface {
	CreateMedicationLog(ctx context.Context, entry *model.MedicationLog) (*model.MedicationLog, error)
	UpdateMedicationLog(ctx context.Context, ownerID string, id string, patch *model.MedicationLogPayload) (*model.MedicationLog, error)
}

type monitoringData interface {
	CreateMonitoringData(ctx context.Context, reading *model.MonitoringData) (*model.MonitoringData, error)
	UpdateMonitoringData(ctx context.Context, ownerID string, id string, patch *model.MonitoringDataPayload) (*model.MonitoringData, error)
}
