// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the flower launcher. The proxy itself lives in the
// library; this binary only loads a config file and runs a server
// until it is told to stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sllt/flower"

	// plug in the protocol modules
	_ "github.com/sllt/flower/modules/flowerdirect"
	_ "github.com/sllt/flower/modules/flowerdrop"
	_ "github.com/sllt/flower/modules/flowerquic"
	_ "github.com/sllt/flower/modules/flowertls"

	// fallback roots, for systems without a usable trust store
	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "flower",
	Short:         "A proxy dispatch fabric",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	var configFile string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy with a JSON config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flower.LoadConfig(configFile)
			if err != nil {
				return err
			}

			level := ""
			if cfg.Log != nil {
				level = cfg.Log.Level
			}
			logger, err := flower.NewLogger(level)
			if err != nil {
				return err
			}
			flower.SetLogger(logger)
			defer logger.Sync()

			srv, err := flower.NewServer(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "config.json", "path to the config file")
	rootCmd.AddCommand(runCmd)
}
