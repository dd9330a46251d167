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
	"fmt"
	"log"
	"os"

	"github.com/healthbridge/bridge"
	"github.com/healthbridge/bridge/config"
	"github.com/healthbridge/bridge/database"
	"github.com/healthbridge/bridge/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Bridge represents the CLI application, encapsulating the root Cobra command.
type Bridge struct {
	cmd *cobra.Command
}

// bridgeInstance holds the sync service and its configuration for the
// lifetime of a command.
type bridgeInstance struct {
	bridge *bridge.Bridge
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the sync service before any
// subcommand runs. Commands that only need configuration skip the service.
func preRun(app *bridgeInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations["service"] == "none" {
			return nil
		}

		newBridge, err := setupBridge(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.bridge = newBridge

		return nil
	}
}

// setupBridge connects to the data source and creates the sync service.
func setupBridge(cfg *config.Configuration) (*bridge.Bridge, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newBridge, err := bridge.NewBridge(db)
	if err != nil {
		return nil, fmt.Errorf("error creating bridge: %v", err)
	}
	return newBridge, nil
}

// NewCLI creates the command-line interface with the server, worker,
// migration and config subcommands.
func NewCLI() *Bridge {
	var configFile string
	b := &bridgeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "bridge",
		Short: "HealthBridge offline sync service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./bridge.json", "Configuration file for the sync service")

	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands(b))

	return &Bridge{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Bridge) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
