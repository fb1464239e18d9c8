package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/recordsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	StoreDSN   string
	OutboxDSN  string
	RemoteURL  string
	Verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recordsync",
		Short: "Local-first record store with a PostgREST mirror",
		Long: `recordsync keeps every collection in a local store and mirrors writes to a
PostgREST-compatible remote. Hydration pulls the remote back down, rebuilds
parent/child links and removes duplicate notifications.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "TOML config file (default $RECORDSYNC_CONFIG)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&opts.StoreDSN, "store", "", "local store DSN (file://, sqlite://, postgres://, memory://)")
	flags.StringVar(&opts.OutboxDSN, "outbox", "", "outbox DSN (immediate://, inline://, memory://, file://)")
	flags.StringVar(&opts.RemoteURL, "remote-url", "", "PostgREST base URL")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newHydrateCommand(opts))
	cmd.AddCommand(newDedupeCommand(opts))
	cmd.AddCommand(newAttendanceCommand(opts))
	cmd.AddCommand(newWipeCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newRunCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)

	cfg, err := config.Load(config.LoadOptions{Path: o.ConfigPath, EnvFile: o.EnvFile})
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.DSN = o.StoreDSN
	}
	if flags.Changed("outbox") {
		cfg.Outbox.DSN = o.OutboxDSN
	}
	if flags.Changed("remote-url") {
		cfg.Remote.URL = o.RemoteURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
