package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/recordsync/internal/backup"
)

// withApp opens the app for one command and closes it afterwards.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a)
	closeErr := a.close(ctx)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func newInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed defaults, apply renames and hydrate from the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				report, err := a.engine.Init(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"seeded":     report.Seeded,
					"renamed":    len(report.Renamed),
					"hydrated":   report.Hydrated,
					"replaced":   report.Hydration.Replaced(),
					"failed":     report.Hydration.Failed(),
					"suppressed": report.Hydration.Suppressed,
				})
			})
		},
	}
}

func newHydrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate",
		Short: "Replace mirrored collections with the remote copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				report, err := a.engine.HydrateAll(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"suppressed": report.Suppressed,
					"replaced":   report.Replaced(),
					"failed":     report.Failed(),
					"links":      report.Relationships.Links,
				})
			})
		},
	}
}

func newDedupeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				report, err := a.notifications.Dedupe(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"groups":  report.Groups,
					"deleted": report.Deleted,
				})
			})
		},
	}
}

func newWipeCommand(opts *RootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Erase every collection locally and remotely",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("wipe erases all data; pass --yes to confirm")
			}
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				return a.engine.Wipe()
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the wipe")
	return cmd
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every local collection to a JSON backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				doc, err := backup.Export(a.engine, a.engine.Namespace().LocalKeys(), time.Now())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return backup.Write(cmd.OutOrStdout(), doc)
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := backup.Write(f, doc); err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "backup file, or - for stdout")
	return cmd
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <backup.json>",
		Short: "Replace collections with the contents of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			doc, err := backup.Parse(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.Import(doc.Collections); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"imported": doc.Keys()})
			})
		},
	}
}
