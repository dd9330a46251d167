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
	"fmt"

	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StageOperation records a client mutation for later replay. The item always
// starts PENDING with no retries.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - userID string: The owner of the queue.
// - action model.SyncAction: The mutation to replay.
// - entityType model.EntityType: Selects the synchronizer.
// - payload json.RawMessage: The client field set, stored as is.
// - entityID string: Optional canonical record id the mutation targets.
//
// Returns:
// - *model.QueueItem: The stored item.
// - error: INVALID_INPUT for a malformed request, or a store error.
func (b *Bridge) StageOperation(ctx context.Context, userID string, action model.SyncAction, entityType model.EntityType, payload json.RawMessage, entityID string) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "StageOperation")
	defer span.End()

	if userID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user id is required", nil)
	}
	entityType, err := model.ParseEntityType(string(entityType))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if _, ok := b.synchronizers[entityType]; !ok {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("no synchronizer for entity type %q", entityType), nil)
	}
	action, err = model.ParseSyncAction(string(action))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "payload must be valid JSON", nil)
	}

	item, err := b.datasource.CreateQueueItem(ctx, &model.QueueItem{
		UserID:     userID,
		EntityType: entityType,
		Action:     action,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("sync.item_id", item.ItemID))

	b.invalidateStatus(ctx, userID)
	return item, nil
}

// ProcessBatch replays up to batchSize of the user's pending items. The queue
// is reconciled first; then candidates are claimed with a compare-and-swap so
// that concurrent runs never process the same item. Per-item failures are
// recorded on the item and reported in the summary; only infrastructure
// failures are returned as an error.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - userID string: The owner of the queue.
// - batchSize int: Maximum items to claim. Non-positive means the default.
//
// Returns:
// - *model.BatchSummary: Counts and per-item results for this run.
// - error: An error if reconciliation, selection or claiming fails.
func (b *Bridge) ProcessBatch(ctx context.Context, userID string, batchSize int) (*model.BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "ProcessBatch")
	defer span.End()

	batchSize = b.clampBatchSize(batchSize)
	span.SetAttributes(attribute.String("sync.user_id", userID), attribute.Int("sync.batch_size", batchSize))

	summary := &model.BatchSummary{Results: []model.SyncResult{}}

	if _, err := b.Reconcile(ctx, userID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	candidates, err := b.datasource.GetClaimCandidates(ctx, userID, batchSize, b.config.MaxRetries)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(candidates) == 0 {
		return summary, nil
	}

	claimed, err := b.datasource.TryClaim(ctx, userID, candidates, model.StatusPending, model.StatusProcessing)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(claimed) == 0 {
		return summary, nil
	}

	items, err := b.datasource.GetQueueItemsByIDs(ctx, userID, claimed, model.StatusProcessing)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	results := make([]model.SyncResult, len(items))
	var g errgroup.Group
	g.SetLimit(b.config.BatchConcurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = b.processItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	summary.Processed = len(results)
	summary.Results = results

	b.invalidateStatus(ctx, userID)

	span.SetAttributes(
		attribute.Int("sync.claimed", len(claimed)),
		attribute.Int("sync.successful", summary.Successful),
		attribute.Int("sync.failed", summary.Failed),
	)
	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"candidates": len(candidates),
		"claimed":    len(claimed),
		"successful": summary.Successful,
		"failed":     summary.Failed,
	}).Info("sync batch processed")

	return summary, nil
}

// processItem runs one claimed item through its synchronizer and records
// the outcome. It never returns an error: failures end up on the item.
func (b *Bridge) processItem(ctx context.Context, item *model.QueueItem) model.SyncResult {
	ctx, span := tracer.Start(ctx, "ProcessSyncItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("sync.item_id", item.ItemID),
		attribute.String("sync.entity_type", string(item.EntityType)),
		attribute.String("sync.action", string(item.Action)),
	)

	result := model.SyncResult{
		ItemID:     item.ItemID,
		EntityType: item.EntityType,
		Action:     item.Action,
		Status:     model.StatusProcessing,
	}

	value, err := b.dispatch(ctx, item)
	if err == nil {
		if markErr := b.datasource.MarkQueueItemSynced(ctx, item.ItemID); markErr != nil {
			// The write happened but ownership was lost or the store failed;
			// the item is replayed once reconciled.
			logrus.WithFields(logrus.Fields{"item_id": item.ItemID}).Errorf("failed to mark sync item synced: %s", apierror.Describe(markErr))
			result.Error = markErr.Error()
			return result
		}
		result.Success = true
		result.Status = model.StatusSynced
		result.Result = value
		return result
	}

	span.RecordError(err)
	result.Error = err.Error()
	permanent := isPermanent(err)

	status, retries, markErr := b.datasource.MarkQueueItemFailed(ctx, item.ItemID, apierror.Describe(err), b.config.MaxRetries, permanent)
	if markErr != nil {
		logrus.WithFields(logrus.Fields{"item_id": item.ItemID}).Errorf("failed to record sync item failure: %v", markErr)
		return result
	}
	result.Status = status

	logrus.WithFields(logrus.Fields{
		"item_id":     item.ItemID,
		"entity_type": item.EntityType,
		"action":      item.Action,
		"retry_count": retries,
		"status":      status,
		"permanent":   permanent,
	}).Warnf("sync item failed: %s", apierror.Describe(err))

	return result
}

func (b *Bridge) dispatch(ctx context.Context, item *model.QueueItem) (interface{}, error) {
	s, ok := b.synchronizers[item.EntityType]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEntityType, "%q", item.EntityType)
	}
	return s.Sync(ctx, Operation{
		Action:   item.Action,
		EntityID: item.EntityID,
		Payload:  item.Payload,
		UserID:   item.UserID,
	})
}

func (b *Bridge) clampBatchSize(size int) int {
	if size <= 0 {
		return b.config.DefaultBatchSize
	}
	if size > b.config.MaxBatchSize {
		return b.config.MaxBatchSize
	}
	return size
}

// ListQueueItems pages through a user's queue newest first. An empty status
// lists every item.
func (b *Bridge) ListQueueItems(ctx context.Context, userID string, status model.QueueStatus, limit, offset int) ([]*model.QueueItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return b.datasource.GetQueueItems(ctx, userID, status, limit, offset)
}

// GetQueueItem returns one of the user's items.
func (b *Bridge) GetQueueItem(ctx context.Context, userID, itemID string) (*model.QueueItem, error) {
	return b.datasource.GetQueueItem(ctx, userID, itemID)
}

// RetryFailed gives the user's transiently failed items a fresh set of
// attempts. Items that failed permanently stay FAILED.
func (b *Bridge) RetryFailed(ctx context.Context, userID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "RetryFailed")
	defer span.End()

	n, err := b.datasource.ResetFailedQueueItems(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{"user_id": userID, "reset": n}).Info("failed sync items reset")
		b.invalidateStatus(ctx, userID)
	}
	return n, nil
}
