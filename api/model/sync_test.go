package model

import (
	"encoding/json"
	"testing"

	"github.com/healthbridge/bridge/model"
	"github.com/stretchr/testify/assert"
)

func TestValidateStageOperation(t *testing.T) {
	tests := []struct {
		name    string
		request StageOperation
		wantErr string
	}{
		{
			name:    "Valid create",
			request: StageOperation{EntityType: "HABIT_ENTRY", Action: "CREATE", Payload: json.RawMessage(`{"habitId":"h1"}`)},
		},
		{
			name:    "Lower case tags",
			request: StageOperation{EntityType: "appointment", Action: "delete", EntityID: "appt_1"},
		},
		{
			name:    "Missing entity type",
			request: StageOperation{Action: "CREATE"},
			wantErr: "entity_type: cannot be blank.",
		},
		{
			name:    "Unknown entity type",
			request: StageOperation{EntityType: "INVOICE", Action: "CREATE"},
			wantErr: `entity_type: unknown entity type "INVOICE".`,
		},
		{
			name:    "Unknown action",
			request: StageOperation{EntityType: "HABIT_ENTRY", Action: "UPSERT"},
			wantErr: "action",
		},
		{
			name:    "Payload not an object",
			request: StageOperation{EntityType: "HABIT_ENTRY", Action: "CREATE", Payload: json.RawMessage(`[1,2]`)},
			wantErr: "payload: must be a JSON object.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.ValidateStageOperation()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStageOperation_Operation(t *testing.T) {
	req := StageOperation{EntityType: " monitoring_data ", Action: "update"}
	entityType, action := req.Operation()
	assert.Equal(t, model.EntityMonitoringData, entityType)
	assert.Equal(t, model.ActionUpdate, action)
}

func TestValidateQueueItemsQuery(t *testing.T) {
	assert.NoError(t, (&QueueItemsQuery{}).ValidateQueueItemsQuery())
	assert.NoError(t, (&QueueItemsQuery{Status: "failed", Limit: 100, Offset: 20}).ValidateQueueItemsQuery())
	assert.Error(t, (&QueueItemsQuery{Status: "LOST"}).ValidateQueueItemsQuery())
	assert.Error(t, (&QueueItemsQuery{Limit: 101}).ValidateQueueItemsQuery())
	assert.Error(t, (&QueueItemsQuery{Offset: -1}).ValidateQueueItemsQuery())

	q := QueueItemsQuery{Status: "failed"}
	assert.Equal(t, model.StatusFailed, q.QueueStatus())
	assert.Equal(t, model.QueueStatus(""), (&QueueItemsQuery{}).QueueStatus())
}
