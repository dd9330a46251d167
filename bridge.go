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
	"embed"

	"github.com/healthbridge/bridge/config"
	"github.com/healthbridge/bridge/database"
	"github.com/healthbridge/bridge/internal/cache"
	redis_db "github.com/healthbridge/bridge/internal/redis-db"
	"github.com/healthbridge/bridge/model"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("bridge.sync")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Bridge is the offline sync service. It stages client operations, replays
// them through the entity synchronizers and keeps every user's queue
// consistent.
type Bridge struct {
	datasource    database.IDataSource
	queue         *Queue
	redis         redis.UniversalClient
	cache         cache.Cache
	config        config.SyncConfig
	synchronizers map[model.EntityType]Synchronizer
}

// Option customizes a Bridge built with NewBridgeWithOptions.
type Option func(*Bridge)

// WithQueue enables background sync triggers.
func WithQueue(q *Queue) Option {
	return func(b *Bridge) {
		b.queue = q
	}
}

// WithRedis sets the client used for the recovery lock and, unless WithCache
// is also given, the status cache.
func WithRedis(client redis.UniversalClient) Option {
	return func(b *Bridge) {
		b.redis = client
	}
}

// WithCache sets the status cache. It takes precedence over the cache built by WithRedis.
func WithCache(c cache.Cache) Option {
	return func(b *Bridge) {
		b.cache = c
	}
}

// NewBridge builds the service from the loaded configuration, connecting to
// Redis for the trigger queue, the status cache and the recovery lock.
//
// Parameters:
// - db database.IDataSource: The queue and canonical record store.
//
// Returns:
// - *Bridge: A pointer to the newly created Bridge instance.
// - error: An error if the configuration is missing or Redis is unreachable.
func NewBridge(db database.IDataSource) (*Bridge, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	return NewBridgeWithOptions(db, cfg.Sync, WithRedis(redisClient.Client()), WithQueue(queue)), nil
}

// NewBridgeWithOptions builds the service without reading global
// configuration. Unset limits in cfg take their defaults.
func NewBridgeWithOptions(db database.IDataSource, cfg config.SyncConfig, opts ...Option) *Bridge {
	cfg.SetDefaults()

	b := &Bridge{
		datasource:    db,
		config:        cfg,
		synchronizers: newSynchronizers(db),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil && b.redis != nil {
		b.cache = cache.NewRedisCache(b.redis, cfg.StatusCacheTTL)
	}
	return b
}

// Config returns the effective sync limits.
func (b *Bridge) Config() config.SyncConfig {
	return b.config
}

// Queue returns the trigger queue, or nil when background triggers are off.
func (b *Bridge) Queue() *Queue {
	return b.queue
}

// Close releases the queue and Redis connections.
func (b *Bridge) Close() error {
	if b.queue != nil {
		if err := b.queue.Close(); err != nil {
			return err
		}
	}
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
