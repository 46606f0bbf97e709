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

// Package completion provides shell completion for the feedpassd CLI: the
// script generators and completion functions for flag values. Completion
// functions never fail loudly; on error they offer nothing.
package completion

import (
	"github.com/spf13/cobra"
)

// CompleteLogLevels provides completion for --log-level.
func CompleteLogLevels(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"trace\tEverything, including pty chunks",
			"debug\tState transitions and heartbeats",
			"info\tSessions, reloads and shutdown",
			"warn\tFailed sessions and dropped triggers",
			"error\tFatal problems only",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteLogFormats provides completion for --log-format.
func CompleteLogFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			"text\tHuman-readable key=value",
			"json\tOne JSON object per line",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteSignalActions provides completion for the signal command argument.
func CompleteSignalActions(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return []string{
			"spawn\tFeed the password to the command now",
			"reload\tRe-exec the daemon, keeping the password",
			"stop\tShut the daemon down",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// SafeCompletionWrapper runs fn and turns a panic into an empty result.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		results = []string{}
	}
	return results, directive
}

// Register attaches the flag completions to root and its signal command.
func Register(root *cobra.Command) {
	_ = root.RegisterFlagCompletionFunc("log-level", CompleteLogLevels)
	_ = root.RegisterFlagCompletionFunc("log-format", CompleteLogFormats)
	for _, sub := range root.Commands() {
		if sub.Name() == "signal" {
			sub.ValidArgsFunction = CompleteSignalActions
		}
	}
}
