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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5005"

	DefaultMaxRetries        = 5
	DefaultOrphanTimeout     = 5 * time.Minute
	DefaultBatchSize         = 50
	DefaultMaxBatchSize      = 500
	DefaultBatchConcurrency  = 4
	DefaultStatusCacheTTL    = 10 * time.Second
	DefaultRecoveryInterval  = time.Minute
	DefaultRecoveryBatchSize = 100
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"BRIDGE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"BRIDGE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"BRIDGE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"BRIDGE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"BRIDGE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"BRIDGE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"BRIDGE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"BRIDGE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"BRIDGE_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig names the asynq queues used to trigger background sync runs.
type QueueConfig struct {
	SyncQueue      string `json:"sync_queue" envconfig:"BRIDGE_QUEUE_SYNC"`
	NumberOfQueues int    `json:"number_of_queues" envconfig:"BRIDGE_QUEUE_NUMBER_OF_QUEUES"`
	Concurrency    int    `json:"concurrency" envconfig:"BRIDGE_QUEUE_CONCURRENCY"`
	UniqueFor      int    `json:"unique_for_sec" envconfig:"BRIDGE_QUEUE_UNIQUE_FOR_SEC"`
}

// SyncConfig holds the offline sync queue limits. Environment durations use
// Go syntax ("5m", "30s"); in bridge.json they are nanosecond integers.
type SyncConfig struct {
	MaxRetries        int           `json:"max_retries" envconfig:"BRIDGE_SYNC_MAX_RETRIES"`
	OrphanTimeout     time.Duration `json:"orphan_timeout" envconfig:"BRIDGE_SYNC_ORPHAN_TIMEOUT"`
	DefaultBatchSize  int           `json:"default_batch_size" envconfig:"BRIDGE_SYNC_DEFAULT_BATCH_SIZE"`
	MaxBatchSize      int           `json:"max_batch_size" envconfig:"BRIDGE_SYNC_MAX_BATCH_SIZE"`
	BatchConcurrency  int           `json:"batch_concurrency" envconfig:"BRIDGE_SYNC_BATCH_CONCURRENCY"`
	StatusCacheTTL    time.Duration `json:"status_cache_ttl" envconfig:"BRIDGE_SYNC_STATUS_CACHE_TTL"`
	RecoveryInterval  time.Duration `json:"recovery_interval" envconfig:"BRIDGE_SYNC_RECOVERY_INTERVAL"`
	RecoveryBatchSize int           `json:"recovery_batch_size" envconfig:"BRIDGE_SYNC_RECOVERY_BATCH_SIZE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BRIDGE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BRIDGE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BRIDGE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"BRIDGE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"BRIDGE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"BRIDGE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Sync            SyncConfig       `json:"sync"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("bridge", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called bridge.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "HealthBridge Sync"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.setDefaults()
	cnf.Sync.SetDefaults()

	if cnf.Sync.DefaultBatchSize > cnf.Sync.MaxBatchSize {
		return errors.New("sync default batch size cannot exceed max batch size")
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) setDefaults() {
	if q.SyncQueue == "" {
		q.SyncQueue = "sync_trigger"
	}
	if q.NumberOfQueues <= 0 {
		q.NumberOfQueues = 4
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 1
	}
	if q.UniqueFor <= 0 {
		q.UniqueFor = 30
	}
}

// SetDefaults fills every unset sync limit. It is exported so callers that
// build a SyncConfig by hand (tests, tooling) get the same values as a loaded
// configuration.
func (s *SyncConfig) SetDefaults() {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.OrphanTimeout <= 0 {
		s.OrphanTimeout = DefaultOrphanTimeout
	}
	if s.MaxBatchSize <= 0 {
		s.MaxBatchSize = DefaultMaxBatchSize
	}
	if s.DefaultBatchSize <= 0 {
		s.DefaultBatchSize = DefaultBatchSize
	}
	if s.BatchConcurrency <= 0 {
		s.BatchConcurrency = DefaultBatchConcurrency
	}
	if s.StatusCacheTTL <= 0 {
		s.StatusCacheTTL = DefaultStatusCacheTTL
	}
	if s.RecoveryInterval <= 0 {
		s.RecoveryInterval = DefaultRecoveryInterval
	}
	if s.RecoveryBatchSize <= 0 {
		s.RecoveryBatchSize = DefaultRecoveryBatchSize
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
