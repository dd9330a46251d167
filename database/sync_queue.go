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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// effectiveStatus maps rows written before the status column existed onto the
// state machine using the legacy synced flag.
const effectiveStatus = `COALESCE(status, CASE WHEN synced THEN 'SYNCED' ELSE 'PENDING' END)`

const queueItemColumns = `id, item_id, user_id, entity_type, action, entity_id, payload, ` +
	effectiveStatus + `, retry_count, permanent_failure, error, created_at, updated_at, synced_at`

var tracer = otel.Tracer("bridge.database")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*model.QueueItem, error) {
	var (
		item     model.QueueItem
		entityID sql.NullString
		errMsg   sql.NullString
		payload  []byte
		syncedAt sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.ItemID,
		&item.UserID,
		&item.EntityType,
		&item.Action,
		&entityID,
		&payload,
		&item.Status,
		&item.RetryCount,
		&item.Permanent,
		&errMsg,
		&item.CreatedAt,
		&item.UpdatedAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}
	item.EntityID = entityID.String
	item.Error = errMsg.String
	item.Payload = payload
	if syncedAt.Valid {
		item.SyncedAt = &syncedAt.Time
	}
	return &item, nil
}

func scanQueueItems(rows *sql.Rows) ([]*model.QueueItem, error) {
	items := []*model.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue items", err)
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateQueueItem stages a new operation. The stored row always starts
// PENDING with no retries, whatever the caller set on item.
func (d Datasource) CreateQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "CreateQueueItem")
	defer span.End()

	if item.ItemID == "" {
		item.ItemID = model.GenerateUUIDWithSuffix("sync")
	}
	if len(item.Payload) == 0 {
		item.Payload = []byte("{}")
	}
	item.Status = model.StatusPending
	item.RetryCount = 0
	item.Permanent = false
	item.Error = ""
	item.SyncedAt = nil

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bridge.sync_queue (item_id, user_id, entity_type, action, entity_id, payload, status, synced, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', FALSE, 0)
		RETURNING id, created_at, updated_at
	`, item.ItemID, item.UserID, item.EntityType, item.Action, nullString(item.EntityID), []byte(item.Payload)).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Queue item with this ID already exists", err)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to stage operation", err)
	}
	return item, nil
}

func (d Datasource) GetQueueItem(ctx context.Context, userID, itemID string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM bridge.sync_queue
		WHERE user_id = $1 AND item_id = $2
	`, userID, itemID)

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item '%s' not found", itemID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue item", err)
	}
	return item, nil
}

func (d Datasource) GetClaimCandidates(ctx context.Context, userID string, limit, maxRetries int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "GetClaimCandidates")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT item_id
		FROM bridge.sync_queue
		WHERE user_id = $1 AND status = 'PENDING' AND retry_count < $2
		ORDER BY retry_count ASC, created_at ASC, id ASC
		LIMIT $3
	`, userID, maxRetries, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select claim candidates", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ids", err)
	}
	return ids, nil
}

// TryClaim is a compare-and-swap over a set of rows. A single UPDATE applies
// the transition only where the status still equals from, so of several
// concurrent callers exactly one receives each id.
func (d Datasource) TryClaim(ctx context.Context, userID string, ids []string, from, to model.QueueStatus) ([]string, error) {
	ctx, span := tracer.Start(ctx, "TryClaim")
	defer span.End()
	span.SetAttributes(attribute.Int("sync.candidates", len(ids)))

	if len(ids) == 0 {
		return []string{}, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE bridge.sync_queue
		SET status = $4, synced = $5, updated_at = NOW()
		WHERE user_id = $1 AND item_id = ANY($2) AND status = $3
		RETURNING item_id
	`, userID, pq.Array(ids), from, to, to == model.StatusSynced)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim queue items", err)
	}
	defer rows.Close()

	claimed, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sync.claimed", len(claimed)))
	return claimed, nil
}

func (d Datasource) GetQueueItemsByIDs(ctx context.Context, userID string, ids []string, status model.QueueStatus) ([]*model.QueueItem, error) {
	if len(ids) == 0 {
		return []*model.QueueItem{}, nil
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM bridge.sync_queue
		WHERE user_id = $1 AND item_id = ANY($2) AND status = $3
		ORDER BY retry_count ASC, created_at ASC, id ASC
	`, userID, pq.Array(ids), status)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load claimed queue items", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// MarkQueueItemSynced completes an item this process holds in PROCESSING.
func (d Datasource) MarkQueueItemSynced(ctx context.Context, itemID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bridge.sync_queue
		SET status = 'SYNCED', synced = TRUE, synced_at = NOW(), error = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'PROCESSING'
	`, itemID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item synced", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if n == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item '%s' is no longer processing", itemID), nil)
	}
	return nil
}

// MarkQueueItemFailed records a failed attempt on an item held in PROCESSING.
// The retry count and the next status are computed from the stored count in
// the same statement. A permanent failure jumps straight to FAILED with the
// retry count raised to maxRetries.
func (d Datasource) MarkQueueItemFailed(ctx context.Context, itemID, errMsg string, maxRetries int, permanent bool) (model.QueueStatus, int, error) {
	var (
		status     model.QueueStatus
		retryCount int
	)
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE bridge.sync_queue
		SET retry_count = CASE WHEN $3 THEN GREATEST(retry_count, $2) ELSE retry_count + 1 END,
			status = CASE WHEN $3 OR retry_count + 1 >= $2 THEN 'FAILED' ELSE 'PENDING' END,
			permanent_failure = $3,
			synced = FALSE,
			error = $4,
			updated_at = NOW()
		WHERE item_id = $1 AND status = 'PROCESSING'
		RETURNING status, retry_count
	`, itemID, maxRetries, permanent, errMsg).Scan(&status, &retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Queue item '%s' is no longer processing", itemID), nil)
		}
		return "", 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record queue item failure", err)
	}
	return status, retryCount, nil
}

// ReconcileQueue repairs one user's queue in a single transaction:
// legacy rows get a status, stale PROCESSING rows return to PENDING, and
// PENDING rows that ran out of retries become FAILED. Each step only touches
// rows still in its pre-state, so a concurrent duplicate run changes nothing.
func (d Datasource) ReconcileQueue(ctx context.Context, userID string, orphanTimeout time.Duration, maxRetries int) (model.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "ReconcileQueue")
	defer span.End()

	var report model.ReconcileReport

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return report, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	steps := []struct {
		name  string
		query string
		args  []interface{}
		count *int64
	}{
		{
			name: "migrate legacy status",
			query: `
				UPDATE bridge.sync_queue
				SET status = CASE WHEN synced THEN 'SYNCED' ELSE 'PENDING' END,
					synced_at = CASE WHEN synced THEN COALESCE(synced_at, updated_at) ELSE NULL END,
					updated_at = NOW()
				WHERE user_id = $1 AND status IS NULL`,
			args:  []interface{}{userID},
			count: &report.Migrated,
		},
		{
			name: "reclaim orphans",
			query: `
				UPDATE bridge.sync_queue
				SET status = 'PENDING', updated_at = NOW()
				WHERE user_id = $1 AND status = 'PROCESSING'
					AND updated_at < NOW() - make_interval(secs => $2)`,
			args:  []interface{}{userID, orphanTimeout.Seconds()},
			count: &report.Reclaimed,
		},
		{
			name: "sweep exhausted",
			query: `
				UPDATE bridge.sync_queue
				SET status = 'FAILED', synced = FALSE, error = COALESCE(error, 'retry limit reached'), updated_at = NOW()
				WHERE user_id = $1 AND status = 'PENDING' AND retry_count >= $2`,
			args:  []interface{}{userID, maxRetries},
			count: &report.Exhausted,
		},
	}

	for _, step := range steps {
		result, err := tx.ExecContext(ctx, step.query, step.args...)
		if err != nil {
			return model.ReconcileReport{}, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to %s", step.name), err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return model.ReconcileReport{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
		}
		*step.count = n
	}

	if err := tx.Commit(); err != nil {
		return model.ReconcileReport{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit reconciliation", err)
	}

	span.SetAttributes(
		attribute.Int64("sync.migrated", report.Migrated),
		attribute.Int64("sync.reclaimed", report.Reclaimed),
		attribute.Int64("sync.exhausted", report.Exhausted),
	)
	return report, nil
}

// GetQueueStats counts one user's queue with the same thresholds the
// processor uses, so exhausted rows not yet swept already count as failed.
func (d Datasource) GetQueueStats(ctx context.Context, userID string, maxRetries int) (*model.SyncStatus, error) {
	ctx, span := tracer.Start(ctx, "GetQueueStats")
	defer span.End()

	stats := &model.SyncStatus{
		ByEntityType: []model.StatusBreakdown{},
		ByAction:     []model.StatusBreakdown{},
	}

	err := d.Conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE s IN ('PENDING', 'PROCESSING') AND retry_count < $2),
			COUNT(*) FILTER (WHERE s = 'SYNCED'),
			COUNT(*) FILTER (WHERE s = 'FAILED' OR (s IN ('PENDING', 'PROCESSING') AND retry_count >= $2))
		FROM (
			SELECT `+effectiveStatus+` AS s, retry_count
			FROM bridge.sync_queue
			WHERE user_id = $1
		) q
	`, userID, maxRetries).Scan(&stats.Pending, &stats.Synced, &stats.Failed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count queue items", err)
	}

	stats.ByEntityType, err = d.queueBreakdown(ctx, "entity_type", userID)
	if err != nil {
		return nil, err
	}
	stats.ByAction, err = d.queueBreakdown(ctx, "action", userID)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// queueBreakdown groups a user's unsynced rows by column, which must be a
// trusted identifier.
func (d Datasource) queueBreakdown(ctx context.Context, column, userID string) ([]model.StatusBreakdown, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM bridge.sync_queue
		WHERE user_id = $1 AND %[2]s <> 'SYNCED'
		GROUP BY %[1]s
		ORDER BY %[1]s
	`, column, effectiveStatus), userID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to group queue items by %s", column), err)
	}
	defer rows.Close()

	breakdown := []model.StatusBreakdown{}
	for rows.Next() {
		var b model.StatusBreakdown
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue breakdown", err)
		}
		breakdown = append(breakdown, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over queue breakdown", err)
	}
	return breakdown, nil
}

// GetQueueItems lists a user's items newest first. An empty status lists all.
func (d Datasource) GetQueueItems(ctx context.Context, userID string, status model.QueueStatus, limit, offset int) ([]*model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM bridge.sync_queue
		WHERE user_id = $1 AND ($2 = '' OR `+effectiveStatus+` = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, string(status), limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list queue items", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// ResetFailedQueueItems gives FAILED items another full set of attempts.
// Permanent failures are left alone since they can never succeed.
func (d Datasource) ResetFailedQueueItems(ctx context.Context, userID string) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE bridge.sync_queue
		SET status = 'PENDING', retry_count = 0, error = NULL, updated_at = NOW()
		WHERE user_id = $1 AND status = 'FAILED' AND NOT permanent_failure
	`, userID)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset failed queue items", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n, nil
}

// GetUsersNeedingReconcile finds users whose queues hold legacy, orphaned or
// unswept exhausted rows.
func (d Datasource) GetUsersNeedingReconcile(ctx context.Context, orphanTimeout time.Duration, maxRetries, limit int) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM bridge.sync_queue
		WHERE status IS NULL
			OR (status = 'PROCESSING' AND updated_at < NOW() - make_interval(secs => $1))
			OR (status = 'PENDING' AND retry_count >= $2)
		LIMIT $3
	`, orphanTimeout.Seconds(), maxRetries, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to find queues needing reconciliation", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}
