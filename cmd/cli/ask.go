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
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"finagent/internal/agent"
	"finagent/internal/app"
)

type askFlags struct {
	Thread string
	Remote string
	Token  string
}

func newAskCmd(global *globalFlags) *cobra.Command {
	flags := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one turn and print the event stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, global, flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&flags.Thread, "thread", "", "continue an existing thread")
	cmd.Flags().StringVar(&flags.Remote, "remote", "", "send the turn to a running API (e.g. http://localhost:8000) instead of running locally")
	cmd.Flags().StringVar(&flags.Token, "token", envOr("FINAGENT_TOKEN", ""), "Ghostfolio bearer token forwarded with the turn")
	return cmd
}

func runAsk(cmd *cobra.Command, global *globalFlags, flags *askFlags, question string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := newPrinter(cmd.OutOrStdout(), global.JSON)
	if flags.Remote != "" {
		return newClient(flags.Remote, flags.Token).Chat(ctx, chatRequest{Message: question, ThreadID: flags.Thread}, p)
	}

	b, err := global.bootstrap(ctx, cmd.ErrOrStderr(), app.Options{})
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.Orchestrator.Run(ctx, agent.Request{Message: question, ThreadID: flags.Thread, Credential: flags.Token}, p)
	if err != nil {
		return err
	}
	if !global.JSON {
		fmt.Fprintf(cmd.ErrOrStderr(), "thread %s (%s, %s)\n", res.ThreadID, res.State, res.Strategy)
	}
	return nil
}
