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

	"github.com/healthbridge/bridge/internal/cache"
	"github.com/healthbridge/bridge/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func statusCacheKey(userID string) string {
	return "sync_status:" + userID
}

// GetStatus summarizes a user's queue. Items out of retries count as failed
// even before the reconciler has swept them. Results are cached briefly and
// dropped whenever this service changes the user's queue.
func (b *Bridge) GetStatus(ctx context.Context, userID string) (*model.SyncStatus, error) {
	ctx, span := tracer.Start(ctx, "GetStatus")
	defer span.End()

	key := statusCacheKey(userID)
	if b.cache != nil {
		var cached model.SyncStatus
		err := b.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.Warnf("failed to read cached sync status for %s: %v", userID, err)
		}
	}

	status, err := b.datasource.GetQueueStats(ctx, userID, b.config.MaxRetries)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.Set(ctx, key, status, b.config.StatusCacheTTL); err != nil {
			logrus.Warnf("failed to cache sync status for %s: %v", userID, err)
		}
	}
	return status, nil
}

func (b *Bridge) invalidateStatus(ctx context.Context, userID string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Delete(ctx, statusCacheKey(userID)); err != nil {
		logrus.Warnf("failed to invalidate sync status for %s: %v", userID, err)
	}
}
