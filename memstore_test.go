package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory database.IDataSource with the same conditional
// update semantics as the Postgres datasource. A single mutex stands in for
// row-level atomicity.
type memStore struct {
	mu  sync.Mutex
	now func() time.Time
	seq int64

	rows         []*memRow
	appointments map[string]*model.Appointment
	notes        map[string]*model.ConsultationNote
	habits       map[string]*model.HabitEntry
	meds         map[string]*model.MedicationLog
	readings     map[string]*model.MonitoringData

	appointmentInserts int
	writeErr           error
}

type memRow struct {
	item model.QueueItem
	// legacySynced is the pre-status synced flag of a row whose status is
	// still NULL (item.Status == "").
	legacySynced bool
}

func newMemStore() *memStore {
	return &memStore{
		now:          time.Now,
		appointments: map[string]*model.Appointment{},
		notes:        map[string]*model.ConsultationNote{},
		habits:       map[string]*model.HabitEntry{},
		meds:         map[string]*model.MedicationLog{},
		readings:     map[string]*model.MonitoringData{},
	}
}

func (m *memStore) effective(r *memRow) model.QueueStatus {
	if r.item.Status != "" {
		return r.item.Status
	}
	if r.legacySynced {
		return model.StatusSynced
	}
	return model.StatusPending
}

func (m *memStore) find(itemID string) *memRow {
	for _, r := range m.rows {
		if r.item.ItemID == itemID {
			return r
		}
	}
	return nil
}

func (m *memStore) snapshot(r *memRow) *model.QueueItem {
	item := r.item
	item.Status = m.effective(r)
	return &item
}

func sortByPriority(rows []*memRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].item, rows[j].item
		if a.RetryCount != b.RetryCount {
			return a.RetryCount < b.RetryCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// test helpers

func (m *memStore) item(itemID string) *model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(itemID)
	if r == nil {
		return nil
	}
	return m.snapshot(r)
}

func (m *memStore) items() []*model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.QueueItem, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, m.snapshot(r))
	}
	return out
}

func (m *memStore) setState(itemID string, status model.QueueStatus, retryCount int, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(itemID)
	r.item.Status = status
	r.item.RetryCount = retryCount
	r.item.UpdatedAt = updatedAt
}

func (m *memStore) insertRaw(item model.QueueItem, legacySynced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	item.ID = m.seq
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now().Add(time.Duration(m.seq))
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if len(item.Payload) == 0 {
		item.Payload = []byte("{}")
	}
	m.rows = append(m.rows, &memRow{item: item, legacySynced: legacySynced})
}

func (m *memStore) appointmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appointments)
}

// sync queue

// failWrites makes every entity insert return err until cleared with nil.
func (m *memStore) failWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *memStore) CreateQueueItem(_ context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ItemID == "" {
		item.ItemID = model.GenerateUUIDWithSuffix("sync")
	}
	if m.find(item.ItemID) != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Queue item with this ID already exists", nil)
	}
	if len(item.Payload) == 0 {
		item.Payload = []byte("{}")
	}
	m.seq++
	item.ID = m.seq
	item.Status = model.StatusPending
	item.RetryCount = 0
	item.Permanent = false
	item.Error = ""
	item.SyncedAt = nil
	// Offset by the sequence so creation order is total.
	item.CreatedAt = m.now().Add(time.Duration(m.seq))
	item.UpdatedAt = item.CreatedAt

	m.rows = append(m.rows, &memRow{item: *item})
	stored := *item
	return &stored, nil
}

func (m *memStore) GetQueueItem(_ context.Context, userID, itemID string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(itemID)
	if r == nil || r.item.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item '%s' not found", itemID), nil)
	}
	return m.snapshot(r), nil
}

func (m *memStore) GetClaimCandidates(_ context.Context, userID string, limit, maxRetries int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*memRow
	for _, r := range m.rows {
		if r.item.UserID == userID && r.item.Status == model.StatusPending && r.item.RetryCount < maxRetries {
			matched = append(matched, r)
		}
	}
	sortByPriority(matched)

	ids := []string{}
	for _, r := range matched {
		if len(ids) == limit {
			break
		}
		ids = append(ids, r.item.ItemID)
	}
	return ids, nil
}

func (m *memStore) TryClaim(_ context.Context, userID string, ids []string, from, to model.QueueStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	claimed := []string{}
	for _, r := range m.rows {
		if r.item.UserID == userID && want[r.item.ItemID] && r.item.Status == from {
			r.item.Status = to
			r.item.UpdatedAt = m.now()
			claimed = append(claimed, r.item.ItemID)
		}
	}
	return claimed, nil
}

func (m *memStore) GetQueueItemsByIDs(_ context.Context, userID string, ids []string, status model.QueueStatus) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var matched []*memRow
	for _, r := range m.rows {
		if r.item.UserID == userID && want[r.item.ItemID] && r.item.Status == status {
			matched = append(matched, r)
		}
	}
	sortByPriority(matched)

	items := []*model.QueueItem{}
	for _, r := range matched {
		items = append(items, m.snapshot(r))
	}
	return items, nil
}

func (m *memStore) MarkQueueItemSynced(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(itemID)
	if r == nil || r.item.Status != model.StatusProcessing {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item '%s' is no longer processing", itemID), nil)
	}
	now := m.now()
	r.item.Status = model.StatusSynced
	r.item.SyncedAt = &now
	r.item.Error = ""
	r.item.UpdatedAt = now
	return nil
}

func (m *memStore) MarkQueueItemFailed(_ context.Context, itemID, errMsg string, maxRetries int, permanent bool) (model.QueueStatus, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(itemID)
	if r == nil || r.item.Status != model.StatusProcessing {
		return "", 0, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item '%s' is no longer processing", itemID), nil)
	}
	if permanent {
		if r.item.RetryCount < maxRetries {
			r.item.RetryCount = maxRetries
		}
		r.item.Status = model.StatusFailed
	} else {
		r.item.RetryCount++
		if r.item.RetryCount >= maxRetries {
			r.item.Status = model.StatusFailed
		} else {
			r.item.Status = model.StatusPending
		}
	}
	r.item.Permanent = permanent
	r.item.Error = errMsg
	r.item.UpdatedAt = m.now()
	return r.item.Status, r.item.RetryCount, nil
}

func (m *memStore) ReconcileQueue(_ context.Context, userID string, orphanTimeout time.Duration, maxRetries int) (model.ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report model.ReconcileReport
	now := m.now()
	cutoff := now.Add(-orphanTimeout)

	for _, r := range m.rows {
		if r.item.UserID != userID || r.item.Status != "" {
			continue
		}
		if r.legacySynced {
			r.item.Status = model.StatusSynced
			if r.item.SyncedAt == nil {
				at := r.item.UpdatedAt
				r.item.SyncedAt = &at
			}
		} else {
			r.item.Status = model.StatusPending
		}
		r.item.UpdatedAt = now
		report.Migrated++
	}
	for _, r := range m.rows {
		if r.item.UserID == userID && r.item.Status == model.StatusProcessing && r.item.UpdatedAt.Before(cutoff) {
			r.item.Status = model.StatusPending
			r.item.UpdatedAt = now
			report.Reclaimed++
		}
	}
	for _, r := range m.rows {
		if r.item.UserID == userID && r.item.Status == model.StatusPending && r.item.RetryCount >= maxRetries {
			r.item.Status = model.StatusFailed
			if r.item.Error == "" {
				r.item.Error = "retry limit reached"
			}
			r.item.UpdatedAt = now
			report.Exhausted++
		}
	}
	return report, nil
}

func (m *memStore) GetQueueStats(_ context.Context, userID string, maxRetries int) (*model.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &model.SyncStatus{}
	byType := map[string]int{}
	byAction := map[string]int{}
	for _, r := range m.rows {
		if r.item.UserID != userID {
			continue
		}
		s := m.effective(r)
		inFlight := s == model.StatusPending || s == model.StatusProcessing
		switch {
		case inFlight && r.item.RetryCount < maxRetries:
			stats.Pending++
		case s == model.StatusSynced:
			stats.Synced++
		default:
			stats.Failed++
		}
		if s != model.StatusSynced {
			byType[string(r.item.EntityType)]++
			byAction[string(r.item.Action)]++
		}
	}
	stats.ByEntityType = breakdown(byType)
	stats.ByAction = breakdown(byAction)
	return stats, nil
}

func breakdown(counts map[string]int) []model.StatusBreakdown {
	out := []model.StatusBreakdown{}
	for k, n := range counts {
		out = append(out, model.StatusBreakdown{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *memStore) GetQueueItems(_ context.Context, userID string, status model.QueueStatus, limit, offset int) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*memRow
	for _, r := range m.rows {
		if r.item.UserID == userID && (status == "" || m.effective(r) == status) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].item.ID > matched[j].item.ID })

	items := []*model.QueueItem{}
	for i := offset; i < len(matched) && len(items) < limit; i++ {
		items = append(items, m.snapshot(matched[i]))
	}
	return items, nil
}

func (m *memStore) ResetFailedQueueItems(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.rows {
		if r.item.UserID == userID && r.item.Status == model.StatusFailed && !r.item.Permanent {
			r.item.Status = model.StatusPending
			r.item.RetryCount = 0
			r.item.Error = ""
			r.item.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetUsersNeedingReconcile(_ context.Context, orphanTimeout time.Duration, maxRetries, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-orphanTimeout)
	seen := map[string]bool{}
	users := []string{}
	for _, r := range m.rows {
		stale := r.item.Status == "" ||
			(r.item.Status == model.StatusProcessing && r.item.UpdatedAt.Before(cutoff)) ||
			(r.item.Status == model.StatusPending && r.item.RetryCount >= maxRetries)
		if stale && !seen[r.item.UserID] && len(users) < limit {
			seen[r.item.UserID] = true
			users = append(users, r.item.UserID)
		}
	}
	return users, nil
}

// canonical records

func (m *memStore) CreateAppointment(_ context.Context, appt *model.Appointment) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}

	for _, existing := range m.appointments {
		if existing.PatientID == appt.PatientID && existing.ProviderID == appt.ProviderID && existing.AppointmentDate.Equal(appt.AppointmentDate) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Appointment already exists for this slot", nil)
		}
	}
	if appt.AppointmentID == "" {
		appt.AppointmentID = model.GenerateUUIDWithSuffix("appt")
	}
	stored := *appt
	stored.CreatedAt, stored.UpdatedAt = m.now(), m.now()
	m.appointments[stored.AppointmentID] = &stored
	m.appointmentInserts++
	out := stored
	return &out, nil
}

func (m *memStore) FindAppointment(_ context.Context, patientID, providerID string, date time.Time) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.appointments {
		if a.PatientID == patientID && a.ProviderID == providerID && a.AppointmentDate.Equal(date) {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateAppointment(_ context.Context, ownerID string, id string, patch *model.AppointmentPayload) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || (a.PatientID != ownerID && a.ProviderID != ownerID) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Appointment '%s' not found", id), nil)
	}
	if patch.ProviderID != nil {
		a.ProviderID = *patch.ProviderID
	}
	if patch.AppointmentDate != nil {
		a.AppointmentDate = *patch.AppointmentDate
	}
	if patch.Duration != nil {
		a.Duration = *patch.Duration
	}
	if patch.Type != nil {
		a.Type = *patch.Type
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Reason != nil {
		a.Reason = *patch.Reason
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	a.UpdatedAt = m.now()
	out := *a
	return &out, nil
}

func (m *memStore) DeleteAppointment(_ context.Context, ownerID string, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || (a.PatientID != ownerID && a.ProviderID != ownerID) {
		return false, nil
	}
	delete(m.appointments, id)
	return true, nil
}

func (m *memStore) CreateConsultationNote(_ context.Context, note *model.ConsultationNote) (*model.ConsultationNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}

	if note.NoteID == "" {
		note.NoteID = model.GenerateUUIDWithSuffix("note")
	}
	stored := *note
	m.notes[stored.NoteID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) UpdateConsultationNote(_ context.Context, ownerID string, id string, patch *model.ConsultationPayload) (*model.ConsultationNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[id]
	if !ok || (n.PatientID != ownerID && n.ProviderID != ownerID) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Consultation note '%s' not found", id), nil)
	}
	if patch.Notes != nil {
		n.Notes = *patch.Notes
	}
	if patch.Diagnosis != nil {
		n.Diagnosis = *patch.Diagnosis
	}
	if patch.Prescription != nil {
		n.Prescription = *patch.Prescription
	}
	if patch.FollowUpDate != nil {
		n.FollowUpDate = patch.FollowUpDate
	}
	out := *n
	return &out, nil
}

func (m *memStore) CreateHabitEntry(_ context.Context, entry *model.HabitEntry) (*model.HabitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("habit")
	}
	stored := *entry
	m.habits[stored.EntryID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) UpdateHabitEntry(_ context.Context, ownerID string, id string, patch *model.HabitEntryPayload) (*model.HabitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.habits[id]
	if !ok || e.PatientID != ownerID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Habit entry '%s' not found", id), nil)
	}
	if patch.Completed != nil {
		e.Completed = *patch.Completed
	}
	if patch.Value != nil {
		e.Value = decimal.NullDecimal{Decimal: *patch.Value, Valid: true}
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}
	out := *e
	return &out, nil
}

func (m *memStore) CreateMedicationLog(_ context.Context, entry *model.MedicationLog) (*model.MedicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}

	if entry.LogID == "" {
		entry.LogID = model.GenerateUUIDWithSuffix("med")
	}
	stored := *entry
	m.meds[stored.LogID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) UpdateMedicationLog(_ context.Context, ownerID string, id string, patch *model.MedicationLogPayload) (*model.MedicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.meds[id]
	if !ok || e.PatientID != ownerID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Medication log '%s' not found", id), nil)
	}
	if patch.Skipped != nil {
		e.Skipped = *patch.Skipped
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}
	out := *e
	return &out, nil
}

func (m *memStore) CreateMonitoringData(_ context.Context, reading *model.MonitoringData) (*model.MonitoringData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return nil, m.writeErr
	}

	if reading.ReadingID == "" {
		reading.ReadingID = model.GenerateUUIDWithSuffix("reading")
	}
	stored := *reading
	m.readings[stored.ReadingID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) UpdateMonitoringData(_ context.Context, ownerID string, id string, patch *model.MonitoringDataPayload) (*model.MonitoringData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.readings[id]
	if !ok || r.PatientID != ownerID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Monitoring reading '%s' not found", id), nil)
	}
	if patch.Value != nil {
		r.Value = *patch.Value
	}
	if patch.Notes != nil {
		r.Notes = *patch.Notes
	}
	out := *r
	return &out, nil
}
