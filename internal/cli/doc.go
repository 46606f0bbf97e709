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

/*
Package cli provides the root command for feedpassd.

The root command is the daemon itself. Everything after "--" (or after the
first positional argument) is the command each prompt session runs.

# Command Tree

	feedpassd [flags] -- COMMAND [ARGS...]
	├── signal spawn|reload|stop   Send a trigger to a running daemon
	└── version                    Show version

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(signal.NewCommand(rootCmd.ConfigPath))
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Configuration

Settings are layered: built-in defaults, the YAML file named by --config
(default $XDG_CONFIG_HOME/feedpass/config.yaml when it exists), FEEDPASS_*
environment variables, then flags.

# Error Handling

Errors are handled centrally to ensure proper exit codes:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid usage or configuration
  - Exit 3: The password could not be read
  - Exit 4: The check-at-start session failed
  - Exit 5: Reload failed
  - Exit 130: Stopped by SIGINT or SIGTERM
*/
package cli
