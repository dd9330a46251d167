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

/*
Package main provides the CLI commands for applying and rolling back the
sync queue schema.
*/

package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/healthbridge/bridge"
	"github.com/healthbridge/bridge/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

const schema = "bridge"

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: bridge.SQLFiles,
		Root:       "sql",
	}
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(b *bridgeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "run sync queue migrations",
		Annotations: map[string]string{"service": "none"},
	}

	cmd.AddCommand(migrateUpCommands(b))
	cmd.AddCommand(migrateDownCommands(b))

	return cmd
}

func connect(b *bridgeInstance) (*sql.DB, error) {
	db, err := database.ConnectDB(b.cnf.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		_ = db.Close()
		return nil, err
	}
	migrate.SetSchema(schema)
	return db, nil
}

func migrateUpCommands(b *bridgeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "up",
		Annotations: map[string]string{"service": "none"},
		Run: func(cmd *cobra.Command, args []string) {
			db, err := connect(b)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
			} else {
				fmt.Printf("Applied %d migrations!\n", n)
			}
		},
	}

	return cmd
}

func migrateDownCommands(b *bridgeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "down",
		Annotations: map[string]string{"service": "none"},
		Run: func(cmd *cobra.Command, args []string) {
			db, err := connect(b)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}

	return cmd
}
