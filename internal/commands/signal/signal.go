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

// Package signal implements "feedpassd signal", which sends a trigger to a
// running daemon found through its pid file.
package signal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/feedpass/internal/commands/shared"
	"github.com/tombee/feedpass/internal/config"
	"github.com/tombee/feedpass/internal/lifecycle"
	"github.com/tombee/feedpass/internal/trigger"
)

// actions maps subcommand names to triggers.
var actions = map[string]trigger.Kind{
	"spawn":  trigger.Spawn,
	"reload": trigger.Reload,
	"stop":   trigger.Shutdown,
}

// options holds the resolved flags and the process operations, which tests
// replace.
type options struct {
	pidFile string
	wait    time.Duration
	force   bool
	out     io.Writer

	isDaemon func(pid int) bool
	send     func(pid int, sig syscall.Signal) error
	stop     func(pid int, sig syscall.Signal, timeout time.Duration, force bool) error
}

// NewCommand creates the signal command. configPath returns the value of the
// root --config flag once flags are parsed.
func NewCommand(configPath func() string) *cobra.Command {
	opts := options{
		isDaemon: lifecycle.IsDaemonProcess,
		send:     lifecycle.SendSignal,
		stop:     lifecycle.Stop,
	}

	cmd := &cobra.Command{
		Use:       "signal spawn|reload|stop",
		Short:     "Send a trigger to a running feedpassd",
		ValidArgs: []string{"spawn", "reload", "stop"},
		Args:      cobra.ExactArgs(1),
		Long: `Send a trigger to the feedpassd whose PID is in the pid file.

  spawn   run the command once and feed it the password (SIGUSR1)
  reload  re-exec the daemon, keeping the password (SIGHUP)
  stop    shut the daemon down and wait for it to exit (SIGTERM)

The process is checked to be a running feedpassd before it is signalled.`,
		Example: `  # Feed the password to the command now
  feedpassd signal spawn --pid-file ~/.cache/feedpassd.pid

  # Stop, killing the daemon if it is still running after 30s
  feedpassd signal stop --pid-file ~/.cache/feedpassd.pid --wait 30s --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := actions[args[0]]
			if !ok {
				return shared.NewUsageError(fmt.Sprintf("unknown action %q (want spawn, reload or stop)", args[0]), nil)
			}
			if opts.pidFile == "" {
				cfg, err := config.Load(configPath())
				if err != nil {
					return err
				}
				opts.pidFile = cfg.Daemon.PIDFile
			}
			opts.out = cmd.OutOrStdout()
			return run(kind, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "PID file of the daemon (default: from configuration)")
	cmd.Flags().DurationVar(&opts.wait, "wait", 10*time.Second, "How long stop waits for the daemon to exit")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Send SIGKILL if the daemon has not exited after --wait")

	return cmd
}

func run(kind trigger.Kind, opts options) error {
	if opts.pidFile == "" {
		return shared.NewUsageError("no PID file: pass --pid-file or set daemon.pid_file", nil)
	}

	pid, err := lifecycle.NewPIDFileManager(opts.pidFile).Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if kind == trigger.Shutdown {
				shared.NewPrinter(opts.out).Info("feedpassd is not running (no PID file)")
				return nil
			}
			return fmt.Errorf("feedpassd is not running: no PID file at %s", opts.pidFile)
		}
		return fmt.Errorf("cannot signal feedpassd: %w", err)
	}

	if !opts.isDaemon(pid) {
		return fmt.Errorf("PID %d is not a running %s (refusing to signal)", pid, lifecycle.DaemonName)
	}

	p := shared.NewPrinter(opts.out)
	sig := trigger.SignalFor(kind)
	if kind != trigger.Shutdown {
		if err := opts.send(pid, sig); err != nil {
			return err
		}
		p.OK("Sent %s to feedpassd (PID %d)", kind, pid)
		return nil
	}

	started := time.Now()
	p.KV("Stopping feedpassd, PID", pid)
	if err := opts.stop(pid, sig, opts.wait, opts.force); err != nil {
		if errors.Is(err, lifecycle.ErrShutdownTimeout) {
			p.Warn("feedpassd did not exit in time; retry with --force")
		}
		return fmt.Errorf("failed to stop feedpassd: %w", err)
	}
	p.OK("feedpassd stopped after %s", time.Since(started).Round(time.Millisecond))
	return nil
}
