// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/changegraph/pkg/logging"
	"github.com/AleutianAI/changegraph/pkg/ux"
	"github.com/AleutianAI/changegraph/services/workspace"
	"github.com/AleutianAI/changegraph/services/workspace/config"
	"github.com/AleutianAI/changegraph/services/workspace/ids"
	"github.com/AleutianAI/changegraph/services/workspace/telemetry"
)

// app carries what every subcommand needs after flag parsing.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logging.Logger
	out    *ux.Printer
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(ux.NewPrinter(os.Stdout))
}

func newRootCmdWith(out *ux.Printer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "changegraph",
		Short: "Versioned workspace graph snapshots",
		Long: `changegraph stores workspace graphs as content-addressed, partitioned
snapshots and tracks which snapshot each change set publishes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		a.serveCmd(),
		a.initCmd(),
		a.forkCmd(),
		a.listCmd(),
		a.showCmd(),
		a.viewsCmd(),
		a.diffCmd(),
		a.applyCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// withService opens the service for the duration of fn.
func (a *app) withService(ctx context.Context, fn func(*workspace.Service) error) error {
	svc, err := workspace.Open(ctx, a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func parseID(s string) (ids.ID, error) {
	id, err := ids.ParseID(s)
	if err != nil {
		return ids.ID{}, fmt.Errorf("invalid change set id %q: %w", s, err)
	}
	return id, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			return a.withService(ctx, func(svc *workspace.Service) error {
				return svc.Serve(ctx)
			})
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Create a change set with a fresh initial snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				cs, err := svc.CreateChangeSet(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderChangeSet(a.out, cs)
				return nil
			})
		},
	}
}

func (a *app) forkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fork <base-id> <name>",
		Short: "Create a change set starting from another change set's snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				cs, err := svc.ForkChangeSet(cmd.Context(), base, args[1])
				if err != nil {
					return err
				}
				renderChangeSet(a.out, cs)
				return nil
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List change sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				sets, err := svc.ChangeSets(cmd.Context())
				if err != nil {
					return err
				}
				renderChangeSets(a.out, sets)
				return nil
			})
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Summarize the snapshot a change set publishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				sum, err := svc.Summarize(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderSummary(a.out, sum)
				return nil
			})
		},
	}
}

func (a *app) viewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "views <id>",
		Short: "List the views of a change set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				views, err := svc.Views(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderViews(a.out, views)
				return nil
			})
		},
	}
}

func (a *app) diffCmd() *cobra.Command {
	var changesOnly bool
	cmd := &cobra.Command{
		Use:   "diff <base-id> <updated-id>",
		Short: "Show the rebase batch that turns base into updated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseID(args[0])
			if err != nil {
				return err
			}
			updated, err := parseID(args[1])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				if changesOnly {
					changes, err := svc.Changes(cmd.Context(), updated, base)
					if err != nil {
						return err
					}
					renderChanges(a.out, changes)
					return nil
				}
				updates, err := svc.RebaseBatch(cmd.Context(), updated, base)
				if err != nil {
					return err
				}
				renderUpdates(a.out, updates)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&changesOnly, "changes", false, "list changed entities instead of structural updates")
	return cmd
}

func (a *app) applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <target-id> <source-id>",
		Short: "Replay source's rebase batch onto target and republish target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseID(args[0])
			if err != nil {
				return err
			}
			source, err := parseID(args[1])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *workspace.Service) error {
				res, err := svc.Apply(cmd.Context(), target, source)
				if err != nil {
					return err
				}
				a.out.Success(fmt.Sprintf("applied %d updates", res.Updates))
				a.out.Field("address", res.Address.String())
				return nil
			})
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "write <path>",
		Short: "Write the resolved configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Write(args[0], a.cfg); err != nil {
				return err
			}
			a.out.Success("wrote " + args[0])
			return nil
		},
	})
	return cmd
}
