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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// QueueStatus is the processing state of a staged operation.
type QueueStatus string

const (
	StatusPending    QueueStatus = "PENDING"
	StatusProcessing QueueStatus = "PROCESSING"
	StatusSynced     QueueStatus = "SYNCED"
	StatusFailed     QueueStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s QueueStatus) IsTerminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// ParseQueueStatus accepts a status name in any case.
func ParseQueueStatus(s string) (QueueStatus, error) {
	status := QueueStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusProcessing, StatusSynced, StatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("invalid queue status %q", s)
}

// EntityType selects the synchronizer that replays a queue item.
type EntityType string

const (
	EntityAppointment    EntityType = "APPOINTMENT"
	EntityConsultation   EntityType = "CONSULTATION"
	EntityHabitEntry     EntityType = "HABIT_ENTRY"
	EntityMedicationLog  EntityType = "MEDICATION_LOG"
	EntityMonitoringData EntityType = "MONITORING_DATA"
)

// EntityTypes lists every entity type a client may stage.
var EntityTypes = []EntityType{
	EntityAppointment,
	EntityConsultation,
	EntityHabitEntry,
	EntityMedicationLog,
	EntityMonitoringData,
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range EntityTypes {
		if t == known {
			return t, nil
		}
	}
	return "", unknownValueError("entity type", s, entityTypeNames())
}

func entityTypeNames() []string {
	names := make([]string, len(EntityTypes))
	for i, t := range EntityTypes {
		names[i] = string(t)
	}
	return names
}

// unknownValueError names the closest known value when the input looks like
// a typo of one.
func unknownValueError(kind, got string, known []string) error {
	input := []rune(strings.ToUpper(strings.TrimSpace(got)))
	best, bestDistance := "", -1
	for _, k := range known {
		d := levenshtein.DistanceForStrings(input, []rune(k), levenshtein.DefaultOptions)
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = k, d
		}
	}
	if bestDistance >= 0 && bestDistance <= 3 {
		return fmt.Errorf("unknown %s %q, did you mean %q", kind, got, best)
	}
	return fmt.Errorf("unknown %s %q", kind, got)
}

// SyncAction is the mutation a queue item applies to the canonical store.
type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
	ActionDelete SyncAction = "DELETE"
)

func ParseSyncAction(s string) (SyncAction, error) {
	a := SyncAction(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", unknownValueError("action", s, []string{string(ActionCreate), string(ActionUpdate), string(ActionDelete)})
}

// QueueItem is one client mutation staged for replay.
// The payload is opaque to the queue and only interpreted by the synchronizer
// registered for EntityType.
type QueueItem struct {
	ID         int64           `json:"-"`
	ItemID     string          `json:"id"`
	UserID     string          `json:"user_id"`
	EntityType EntityType      `json:"entity_type"`
	Action     SyncAction      `json:"action"`
	EntityID   string          `json:"entity_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Status     QueueStatus     `json:"status"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	Permanent  bool            `json:"permanent_failure,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// Synced is derived from Status; it is never stored independently.
func (q *QueueItem) Synced() bool {
	return q.Status == StatusSynced
}

// MarshalJSON adds the derived synced flag older clients still read.
func (q QueueItem) MarshalJSON() ([]byte, error) {
	type alias QueueItem
	return json.Marshal(struct {
		alias
		Synced bool `json:"synced"`
	}{alias: alias(q), Synced: q.Synced()})
}

// SyncResult is the outcome of one queue item within a batch.
type SyncResult struct {
	ItemID     string      `json:"id"`
	EntityType EntityType  `json:"entity_type"`
	Action     SyncAction  `json:"action"`
	Success    bool        `json:"success"`
	Status     QueueStatus `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchSummary is returned by a processing run.
type BatchSummary struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []SyncResult `json:"results"`
}

// ReconcileReport counts the rows each housekeeping step touched.
type ReconcileReport struct {
	Migrated  int64 `json:"migrated"`
	Reclaimed int64 `json:"reclaimed"`
	Exhausted int64 `json:"exhausted"`
}

func (r ReconcileReport) Total() int64 {
	return r.Migrated + r.Reclaimed + r.Exhausted
}

type StatusBreakdown struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// SyncStatus is the per-user queue summary shown to clients.
type SyncStatus struct {
	Pending      int               `json:"pending"`
	Synced       int               `json:"synced"`
	Failed       int               `json:"failed"`
	ByEntityType []StatusBreakdown `json:"by_entity_type"`
	ByAction     []StatusBreakdown `json:"by_action"`
}
