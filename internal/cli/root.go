// Copyright 2025 Tom Barlow
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

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tombee/feedpass/internal/commands/shared"
	"github.com/tombee/feedpass/internal/config"
	"github.com/tombee/feedpass/internal/daemon"
	"github.com/tombee/feedpass/internal/lifecycle"
	internallog "github.com/tombee/feedpass/internal/log"
	"github.com/tombee/feedpass/internal/metrics"
	"github.com/tombee/feedpass/internal/tracing"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
	"github.com/tombee/feedpass/pkg/security"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

// Root holds the root command and the values its subcommands share.
type Root struct {
	*cobra.Command

	configPath string
	flags      *config.Flags
}

// ConfigPath returns the --config value once flags are parsed.
func (r *Root) ConfigPath() string { return r.configPath }

// NewRootCommand creates the root command, which runs the daemon.
func NewRootCommand() *Root {
	r := &Root{}
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "feedpassd [flags] -- COMMAND [ARGS...]",
		Short: "Hold a password and feed it to a command on demand",
		Long: `feedpassd asks for a password once, keeps it in memory, and idles.
Each time it receives SIGUSR1 it runs COMMAND on a pseudo-terminal, waits
for the prompt and types the password.

  SIGUSR1         run COMMAND and feed it the password
  SIGHUP          re-exec feedpassd, keeping the password
  SIGINT/SIGTERM  stop

By default the password is prompted on the terminal. Use 'feedpassd signal'
to send triggers to a running daemon.`,
		Example: `  # Prompt once, then unlock a backup key whenever asked to
  feedpassd --pid-file ~/.cache/feedpassd.pid -- borg list /backup

  # Take the password from the environment, check it at start
  BORG_PW=... feedpassd --password-from-env BORG_PW --check-at-start -- borg list /backup`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				v, _, _ := shared.GetVersion()
				cmd.Printf("%s version %s\n", lifecycle.DaemonName, v)
				return nil
			}
			cfg, err := r.loadConfig(args)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cmd, cfg, r.configPath)
		},
	}

	// Everything after the first positional argument belongs to COMMAND.
	cmd.Flags().SetInterspersed(false)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return shared.NewUsageError("invalid arguments", err)
	})

	cmd.PersistentFlags().StringVar(&r.configPath, "config", config.DefaultPath(), "Path to config file (default: $XDG_CONFIG_HOME/feedpass/config.yaml if present)")
	r.flags = config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print the version and exit")
	cmd.Flags().SortFlags = false

	r.Command = cmd
	return r
}

// loadConfig layers flags and the command line over the file and
// environment, then validates.
func (r *Root) loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	if err := r.flags.Apply(cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Command = args
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runDaemon wires telemetry and runs the daemon until it stops.
func runDaemon(ctx context.Context, cmd *cobra.Command, cfg *config.Config, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := internallog.New(cfg.LoggerConfig())
	slog.SetDefault(logger)
	if configPath != "" {
		for _, warning := range security.CheckPermissions(configPath, false) {
			logger.Warn("security warning", slog.String("warning", warning))
		}
	}

	v, _, _ := shared.GetVersion()
	tp, err := tracing.New(tracing.Config{
		ServiceName:    lifecycle.DaemonName,
		ServiceVersion: v,
		File:           cfg.Telemetry.TraceFile,
	})
	if err != nil {
		return &pkgerrors.ConfigError{Key: "telemetry.trace_file", Reason: "cannot open trace file", Cause: err}
	}

	d, err := daemon.New(daemon.Options{
		Config:  cfg,
		Version: v,
		Logger:  logger,
		Stdin:   cmd.InOrStdin(),
		Output:  cmd.OutOrStdout(),
		Metrics: metrics.New(cfg.Telemetry.MetricsTextfile),
		Tracing: tp,
		Events:  lifecycle.NewEventLogger(cfg.Daemon.EventLog),
	})
	if err != nil {
		return err
	}

	err = d.Start(ctx)
	if err == nil {
		err = d.Run(ctx)
	}
	if errors.Is(err, daemon.ErrShutdownRequested) {
		return shared.NewShutdownExit()
	}
	if err != nil {
		logger.Error("daemon exited", internallog.Error(err))
		return fmt.Errorf("%s: %w", lifecycle.DaemonName, err)
	}
	return nil
}
