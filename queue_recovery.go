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
	"sync"
	"time"

	redlock "github.com/healthbridge/bridge/internal/lock"
	"github.com/healthbridge/bridge/model"
	"github.com/sirupsen/logrus"
)

const recoveryLockKey = "bridge:sync-recovery"

// RecoverySummary reports one sweep across all queues.
type RecoverySummary struct {
	Users     int   `json:"users"`
	Migrated  int64 `json:"migrated"`
	Reclaimed int64 `json:"reclaimed"`
	Exhausted int64 `json:"exhausted"`
}

func (s *RecoverySummary) add(r model.ReconcileReport) {
	s.Users++
	s.Migrated += r.Migrated
	s.Reclaimed += r.Reclaimed
	s.Exhausted += r.Exhausted
}

// SyncRecoveryProcessor periodically reconciles queues that hold orphaned or
// exhausted items, so they are repaired even when their owner never polls
// again. Processing does not depend on it: every ProcessBatch reconciles
// first.
type SyncRecoveryProcessor struct {
	bridge       *Bridge
	batchSize    int
	maxWorkers   int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewSyncRecoveryProcessor(b *Bridge) *SyncRecoveryProcessor {
	return &SyncRecoveryProcessor{
		bridge:       b,
		batchSize:    b.config.RecoveryBatchSize,
		maxWorkers:   b.config.BatchConcurrency,
		pollInterval: b.config.RecoveryInterval,
		stopCh:       make(chan struct{}),
	}
}

func (p *SyncRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Sync recovery processor started")
}

func (p *SyncRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Sync recovery processor stopped")
}

func (p *SyncRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Sync recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Sync recovery processor stop signal received")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one sweep. With Redis configured only one instance sweeps per
// interval.
func (p *SyncRecoveryProcessor) tick(ctx context.Context) {
	if p.bridge.redis == nil {
		if _, err := p.recover(ctx); err != nil {
			logrus.Errorf("sync recovery failed: %v", err)
		}
		return
	}

	locker := redlock.NewLocker(p.bridge.redis, recoveryLockKey, model.GenerateUUIDWithSuffix("sweeper"))
	ran, err := locker.Run(ctx, p.pollInterval, func(ctx context.Context) error {
		_, err := p.recover(ctx)
		return err
	})
	if err != nil {
		logrus.Errorf("sync recovery failed: %v", err)
		return
	}
	if !ran {
		logrus.Debug("sync recovery skipped, another instance holds the lock")
	}
}

// RecoverStuckItems sweeps every queue once. It is exposed for the manual
// trigger API endpoint.
func (b *Bridge) RecoverStuckItems(ctx context.Context) (*RecoverySummary, error) {
	return NewSyncRecoveryProcessor(b).recover(ctx)
}

func (p *SyncRecoveryProcessor) recover(ctx context.Context) (*RecoverySummary, error) {
	ctx, span := tracer.Start(ctx, "RecoverStuckItems")
	defer span.End()

	summary := &RecoverySummary{}
	users, err := p.bridge.datasource.GetUsersNeedingReconcile(ctx, p.bridge.config.OrphanTimeout, p.bridge.config.MaxRetries, p.batchSize)
	if err != nil {
		span.RecordError(err)
		return summary, err
	}
	if len(users) == 0 {
		return summary, nil
	}

	logrus.Infof("Reconciling %d sync queues with %d workers", len(users), p.maxWorkers)

	var mu sync.Mutex
	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for _, userID := range users {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(userID string) {
			defer batchWg.Done()
			defer func() { <-sem }()
			report, err := p.bridge.Reconcile(ctx, userID)
			if err != nil {
				logrus.Errorf("failed to reconcile sync queue for %s: %v", userID, err)
				return
			}
			mu.Lock()
			summary.add(report)
			mu.Unlock()
		}(userID)
	}

	batchWg.Wait()
	return summary, nil
}
