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

	"github.com/healthbridge/bridge/model"
	"github.com/sirupsen/logrus"
)

// Reconcile repairs a user's queue before it is processed: rows without a
// status are migrated, PROCESSING rows older than the orphan timeout go back
// to PENDING, and PENDING rows out of retries become FAILED. The datasource
// runs all three steps in one transaction, so an orphan reclaimed with no
// retries left is swept in the same pass.
func (b *Bridge) Reconcile(ctx context.Context, userID string) (model.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	report, err := b.datasource.ReconcileQueue(ctx, userID, b.config.OrphanTimeout, b.config.MaxRetries)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	if report.Total() > 0 {
		logrus.WithFields(logrus.Fields{
			"user_id":   userID,
			"migrated":  report.Migrated,
			"reclaimed": report.Reclaimed,
			"exhausted": report.Exhausted,
		}).Info("sync queue reconciled")
		b.invalidateStatus(ctx, userID)
	}
	return report, nil
}
