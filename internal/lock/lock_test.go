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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sync:sweeper", "worker-1")

	mock.ExpectSetNX("sync:sweeper", "worker-1", 30*time.Second).SetVal(true)
	assert.NoError(t, locker.Lock(context.Background(), 30*time.Second))

	mock.ExpectSetNX("sync:sweeper", "worker-1", 30*time.Second).SetVal(false)
	err := locker.Lock(context.Background(), 30*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sync:sweeper", "worker-1")

	mock.ExpectEval(unlockScript, []string{"sync:sweeper"}, "worker-1").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"sync:sweeper"}, "worker-1").SetVal(int64(0))
	assert.Error(t, locker.Unlock(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sync:sweeper", "worker-1")

	mock.ExpectEval(extendScript, []string{"sync:sweeper"}, "worker-1", "60000").SetVal(int64(1))
	assert.NoError(t, locker.ExtendLock(context.Background(), time.Minute))

	mock.ExpectEval(extendScript, []string{"sync:sweeper"}, "worker-1", "60000").SetErr(errors.New("connection refused"))
	assert.EqualError(t, locker.ExtendLock(context.Background(), time.Minute), "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Run(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	first := NewLocker(client, "sync:sweeper", "worker-1")
	second := NewLocker(client, "sync:sweeper", "worker-2")

	calls := 0
	ran, err := first.Run(ctx, time.Minute, func(ctx context.Context) error {
		calls++
		// A second sweeper must skip while the first holds the lease.
		skipped, err := second.Run(ctx, time.Minute, func(context.Context) error {
			calls++
			return nil
		})
		assert.False(t, skipped)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.False(t, mr.Exists("sync:sweeper"), "lease released after run")

	ran, err = second.Run(ctx, time.Minute, func(context.Context) error {
		return errors.New("sweep failed")
	})
	assert.True(t, ran)
	assert.EqualError(t, err, "sweep failed")
}
