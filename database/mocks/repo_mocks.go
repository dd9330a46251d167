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
package mocks

import (
	"context"
	"time"

	"github.com/healthbridge/bridge/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Sync queue methods

func (m *MockDataSource) CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) GetQueueItem(ctx context.Context, userID, itemID string) (*model.QueueItem, error) {
	args := m.Called(ctx, userID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) GetClaimCandidates(ctx context.Context, userID string, limit, maxRetries int) ([]string, error) {
	args := m.Called(ctx, userID, limit, maxRetries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) TryClaim(ctx context.Context, userID string, ids []string, from, to model.QueueStatus) ([]string, error) {
	args := m.Called(ctx, userID, ids, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) GetQueueItemsByIDs(ctx context.Context, userID string, ids []string, status model.QueueStatus) ([]*model.QueueItem, error) {
	args := m.Called(ctx, userID, ids, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) MarkQueueItemSynced(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func (m *MockDataSource) MarkQueueItemFailed(ctx context.Context, itemID, errMsg string, maxRetries int, permanent bool) (model.QueueStatus, int, error) {
	args := m.Called(ctx, itemID, errMsg, maxRetries, permanent)
	return args.Get(0).(model.QueueStatus), args.Int(1), args.Error(2)
}

func (m *MockDataSource) ReconcileQueue(ctx context.Context, userID string, orphanTimeout time.Duration, maxRetries int) (model.ReconcileReport, error) {
	args := m.Called(ctx, userID, orphanTimeout, maxRetries)
	return args.Get(0).(model.ReconcileReport), args.Error(1)
}

func (m *MockDataSource) GetQueueStats(ctx context.Context, userID string, maxRetries int) (*model.SyncStatus, error) {
	args := m.Called(ctx, userID, maxRetries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncStatus), args.Error(1)
}

func (m *MockDataSource) GetQueueItems(ctx context.Context, userID string, status model.QueueStatus, limit, offset int) ([]*model.QueueItem, error) {
	args := m.Called(ctx, userID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) ResetFailedQueueItems(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetUsersNeedingReconcile(ctx context.Context, orphanTimeout time.Duration, maxRetries, limit int) ([]string, error) {
	args := m.Called(ctx, orphanTimeout, maxRetries, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Appointment methods

func (m *MockDataSource) CreateAppointment(ctx context.Context, appt *model.Appointment) (*model.Appointment, error) {
	args := m.Called(ctx, appt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *MockDataSource) FindAppointment(ctx context.Context, patientID, providerID string, date time.Time) (*model.Appointment, error) {
	args := m.Called(ctx, patientID, providerID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *MockDataSource) UpdateAppointment(ctx context.Context, ownerID string, id string, patch *model.AppointmentPayload) (*model.Appointment, error) {
	args := m.Called(ctx, ownerID, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Appointment), args.Error(1)
}

func (m *MockDataSource) DeleteAppointment(ctx context.Context, ownerID string, id string) (bool, error) {
	args := m.Called(ctx, ownerID, id)
	return args.Bool(0), args.Error(1)
}

// Clinical record methods

func (m *MockDataSource) CreateConsultationNote(ctx context.Context, note *model.ConsultationNote) (*model.ConsultationNote, error) {
	args := m.Called(ctx, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConsultationNote), args.Error(1)
}

func (m *MockDataSource) UpdateConsultationNote(ctx context.Context, ownerID string, id string, patch *model.ConsultationPayload) (*model.ConsultationNote, error) {
	args := m.Called(ctx, ownerID, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConsultationNote), args.Error(1)
}

func (m *MockDataSource) CreateHabitEntry(ctx context.Context, entry *model.HabitEntry) (*model.HabitEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HabitEntry), args.Error(1)
}

func (m *MockDataSource) UpdateHabitEntry(ctx context.Context, ownerID string, id string, patch *model.HabitEntryPayload) (*model.HabitEntry, error) {
	args := m.Called(ctx, ownerID, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HabitEntry), args.Error(1)
}

func (m *MockDataSource) CreateMedicationLog(ctx context.Context, entry *model.MedicationLog) (*model.MedicationLog, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MedicationLog), args.Error(1)
}

func (m *MockDataSource) UpdateMedicationLog(ctx context.Context, ownerID string, id string, patch *model.MedicationLogPayload) (*model.MedicationLog, error) {
	args := m.Called(ctx, ownerID, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MedicationLog), args.Error(1)
}

func (m *MockDataSource) CreateMonitoringData(ctx context.Context, reading *model.MonitoringData) (*model.MonitoringData, error) {
	args := m.Called(ctx, reading)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MonitoringData), args.Error(1)
}

func (m *MockDataSource) UpdateMonitoringData(ctx context.Context, ownerID string, id string, patch *model.MonitoringDataPayload) (*model.MonitoringData, error) {
	args := m.Called(ctx, ownerID, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MonitoringData), args.Error(1)
}
