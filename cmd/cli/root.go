// Copyright 2026 fanjia1024
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

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"finagent/internal/app"
	"finagent/pkg/config"
	"finagent/pkg/log"
)

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	ConfigPath string
	JSON       bool
	Offline    bool
	Verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "finagent",
		Short:         "Portfolio question answering agent",
		Long:          "finagent routes portfolio questions to analysis tools, validates their output and streams a cited answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", envOr("FINAGENT_CONFIG", "configs/api.yaml"), "config file path (missing file uses built-in defaults)")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "emit NDJSON events instead of text")
	root.PersistentFlags().BoolVar(&flags.Offline, "offline", false, "ignore configured models; keyword routing and deterministic answers only")
	root.PersistentFlags().BoolVar(&flags.Verbose, "verbose", false, "write debug logs to stderr")

	root.AddCommand(newAskCmd(flags))
	root.AddCommand(newToolsCmd(flags))
	root.AddCommand(newEvalCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// bootstrap 按全局参数装配本地编排栈
func (f *globalFlags) bootstrap(ctx context.Context, stderr io.Writer, opts app.Options) (*app.Bootstrap, error) {
	cfg, err := config.LoadOrDefault(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	opts.Logger = f.logger(stderr)
	opts.Offline = opts.Offline || f.Offline
	opts.InitTracing = true
	return app.NewBootstrap(ctx, cfg, opts)
}

func (f *globalFlags) logger(stderr io.Writer) *log.Logger {
	level := slog.LevelWarn
	if f.Verbose {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(stderr, level, "text")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
