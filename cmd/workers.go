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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/healthbridge/bridge"
	"github.com/healthbridge/bridge/config"
	redis_db "github.com/healthbridge/bridge/internal/redis-db"
)

// initializeQueues weighs every sync shard equally.
func initializeQueues(conf *config.Configuration) map[string]int {
	queues := make(map[string]int)
	for _, name := range bridge.ShardNames(conf.Queue) {
		queues[name] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.AsynqOptions(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.Concurrency,
			Queues:      queues,
			Logger:      logrus.StandardLogger(),
		},
	), nil
}

func initializeTaskHandlers(b *bridgeInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(bridge.SyncProcessTask, b.bridge.ProcessSyncTask)
}

// workerCommands defines the "workers" command. Workers drain triggered sync
// runs from the sharded queues and sweep orphaned items in the background.
func workerCommands(b *bridgeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start sync workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			defer func() {
				if err := b.bridge.Close(); err != nil {
					log.Printf("Error closing bridge: %v", err)
				}
			}()

			shutdown, err := initializeObservability(ctx, b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(b.cnf, initializeQueues(b.cnf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			recovery := bridge.NewSyncRecoveryProcessor(b.bridge)
			recovery.Start(ctx)
			defer recovery.Stop()

			if err := srv.Run(mux); err != nil {
				log.Printf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
