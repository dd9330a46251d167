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
	"hash/fnv"
	"time"

	"github.com/healthbridge/bridge/config"
	"github.com/healthbridge/bridge/internal/apierror"
	redis_db "github.com/healthbridge/bridge/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SyncProcessTask is the asynq task type that runs ProcessBatch for one user.
const SyncProcessTask = "sync:process"

// Queue enqueues background sync runs.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	config    config.QueueConfig
}

// SyncTaskPayload is the body of a SyncProcessTask.
type SyncTaskPayload struct {
	UserID    string `json:"user_id"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// NewQueue initializes a Queue against the configured Redis.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis address cannot be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		config:    conf.Queue,
	}, nil
}

// EnqueueSync schedules a background ProcessBatch for userID. A run already
// waiting for the same user absorbs the trigger, in which case enqueued is
// false and err is nil.
func (q *Queue) EnqueueSync(ctx context.Context, userID string, batchSize int) (enqueued bool, err error) {
	ctx, span := tracer.Start(ctx, "EnqueueSync")
	defer span.End()

	payload, err := json.Marshal(SyncTaskPayload{UserID: userID, BatchSize: batchSize})
	if err != nil {
		return false, err
	}

	queueName := q.queueName(userID)
	task := asynq.NewTask(SyncProcessTask, payload,
		asynq.Queue(queueName),
		asynq.Unique(time.Duration(q.config.UniqueFor)*time.Second),
		asynq.MaxRetry(3),
	)

	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			logrus.Debugf("sync already queued for %s", userID)
			return false, nil
		}
		span.RecordError(err)
		return false, err
	}
	logrus.Infof(" [*] Successfully enqueued sync for %s on %s (task %s)", userID, queueName, info.ID)
	return true, nil
}

// queueName shards users across the configured queues. All triggers for one
// user land on the same queue.
func (q *Queue) queueName(userID string) string {
	n := q.config.NumberOfQueues
	if n <= 0 {
		n = 1
	}
	return fmt.Sprintf("%s_%d", q.config.SyncQueue, shardIndex(userID, n)+1)
}

// QueueNames lists every shard, for configuring a worker server.
func (q *Queue) QueueNames() []string {
	return ShardNames(q.config)
}

// ShardNames lists the sync queue shards described by conf.
func ShardNames(conf config.QueueConfig) []string {
	n := conf.NumberOfQueues
	if n <= 0 {
		n = 1
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", conf.SyncQueue, i+1)
	}
	return names
}

// shardIndex maps userID into [0, n). The modulo is taken on the unsigned
// hash so the result stays non-negative where int is 32 bits.
func shardIndex(userID string, n int) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(userID))
	return int(hasher.Sum32() % uint32(n))
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// TriggerSync enqueues a background run for userID.
func (b *Bridge) TriggerSync(ctx context.Context, userID string, batchSize int) (bool, error) {
	if b.queue == nil {
		return false, apierror.NewAPIError(apierror.ErrUnavailable, "Background sync is not configured", nil)
	}
	return b.queue.EnqueueSync(ctx, userID, b.clampBatchSize(batchSize))
}

// ProcessSyncTask is the asynq handler for SyncProcessTask.
func (b *Bridge) ProcessSyncTask(ctx context.Context, t *asynq.Task) error {
	var payload SyncTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode sync task: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UserID == "" {
		return fmt.Errorf("sync task without user id: %w", asynq.SkipRetry)
	}

	if _, err := b.ProcessBatch(ctx, payload.UserID, payload.BatchSize); err != nil {
		logrus.Errorf("background sync for %s failed: %v", payload.UserID, err)
		return err
	}
	return nil
}
