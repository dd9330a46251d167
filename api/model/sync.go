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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/healthbridge/bridge/model"
)

// StageOperation is the body of POST /sync/queue.
type StageOperation struct {
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// QueueItemsQuery binds the GET /sync/items query string.
type QueueItemsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func parsedBy(parse func(string) error) validation.RuleFunc {
	return func(value interface{}) error {
		s, ok := value.(string)
		if !ok {
			return errors.New("must be a string")
		}
		return parse(s)
	}
}

func validPayload(value interface{}) error {
	raw, ok := value.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return errors.New("must be a JSON object")
	}
	return nil
}

func (s *StageOperation) ValidateStageOperation() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.EntityType, validation.Required, validation.By(parsedBy(func(v string) error {
			_, err := model.ParseEntityType(v)
			return err
		}))),
		validation.Field(&s.Action, validation.Required, validation.By(parsedBy(func(v string) error {
			_, err := model.ParseSyncAction(v)
			return err
		}))),
		validation.Field(&s.EntityID, validation.Length(0, 255)),
		validation.Field(&s.Payload, validation.By(validPayload)),
	)
}

// Operation returns the parsed tags. Call ValidateStageOperation first.
func (s *StageOperation) Operation() (model.EntityType, model.SyncAction) {
	entityType, _ := model.ParseEntityType(s.EntityType)
	action, _ := model.ParseSyncAction(s.Action)
	return entityType, action
}

func (q *QueueItemsQuery) ValidateQueueItemsQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Status, validation.When(q.Status != "", validation.By(parsedBy(func(v string) error {
			_, err := model.ParseQueueStatus(v)
			return err
		})))),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(100)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

// QueueStatus returns the parsed status filter, empty for none.
func (q *QueueItemsQuery) QueueStatus() model.QueueStatus {
	if q.Status == "" {
		return ""
	}
	status, _ := model.ParseQueueStatus(q.Status)
	return status
}
