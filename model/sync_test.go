package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	got, err := ParseEntityType(" habit_entry ")
	require.NoError(t, err)
	assert.Equal(t, EntityHabitEntry, got)

	_, err = ParseEntityType("APPOINTMNT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "APPOINTMENT"`)

	_, err = ParseEntityType("INVOICE")
	require.Error(t, err)
	assert.Equal(t, `unknown entity type "INVOICE"`, err.Error())
}

func TestParseSyncAction(t *testing.T) {
	got, err := ParseSyncAction("delete")
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, got)

	_, err = ParseSyncAction("UPSERT")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), `unknown action "UPSERT"`))
}

func TestParseQueueStatus(t *testing.T) {
	got, err := ParseQueueStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got)
	assert.True(t, got.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())

	_, err = ParseQueueStatus("DONE")
	assert.Error(t, err)
}

func TestQueueItem_SyncedIsDerivedFromStatus(t *testing.T) {
	for _, status := range []QueueStatus{StatusPending, StatusProcessing, StatusSynced, StatusFailed} {
		item := QueueItem{ItemID: "sync_1", Status: status, CreatedAt: time.Now()}

		raw, err := json.Marshal(item)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, status == StatusSynced, decoded["synced"], "status %s", status)
		assert.Equal(t, string(status), decoded["status"])
		assert.Equal(t, "sync_1", decoded["id"])
	}
}

func TestReconcileReport_Total(t *testing.T) {
	assert.Equal(t, int64(6), ReconcileReport{Migrated: 1, Reclaimed: 2, Exhausted: 3}.Total())
}
