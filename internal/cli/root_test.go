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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/feedpass/internal/commands/shared"
	"github.com/tombee/feedpass/internal/daemon"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

// isolate keeps the developer's own configuration out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FEEDPASS_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("FEEDPASS_DEBUG", "")
}

func TestNewRootCommand(t *testing.T) {
	isolate(t)
	root := NewRootCommand()

	assert.Equal(t, "feedpassd", root.Name())
	assert.NotEmpty(t, root.Short)
	assert.NotEmpty(t, root.Long)

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	for _, name := range []string{
		"password-from-env", "password-from-file", "password-from-stdin", "password-from-keyring",
		"confirm-password", "reply-to-prompt", "pid-file", "check-at-start", "timeout", "mlock",
		"version",
	} {
		assert.NotNil(t, root.Flags().Lookup(name), "flag %s", name)
	}
}

func TestRoot_Version(t *testing.T) {
	isolate(t)
	v, c, b := GetVersion()
	t.Cleanup(func() { SetVersion(v, c, b) })
	SetVersion("1.2.3", "abc123", "2026-01-01")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "feedpassd version 1.2.3\n", out.String())
}

func TestRoot_LoadConfigLayers(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
command: [borg, list]
prompt:
  reply: "Enter passphrase"
  timeout: 30s
daemon:
  pid_file: /tmp/from-file.pid
`), 0600))

	root := NewRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--config", cfgPath, "--timeout", "5", "--password-from-env", "PW"}))

	cfg, err := root.loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"borg", "list"}, cfg.Command)
	assert.Equal(t, "Enter passphrase", cfg.Prompt.Reply)
	assert.Equal(t, 5*time.Second, cfg.Prompt.Timeout)
	assert.Equal(t, "/tmp/from-file.pid", cfg.Daemon.PIDFile)
	assert.Equal(t, "PW", cfg.Secret.FromEnv)

	cfg, err = root.loadConfig([]string{"restic", "snapshots"})
	require.NoError(t, err)
	assert.Equal(t, []string{"restic", "snapshots"}, cfg.Command)
}

func TestRoot_ReloadArgsOverrideDefaultConfigSource(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "feedpass")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
command: [ssh-add]
secret:
  from_file: /etc/feedpass/secret
log:
  add_source: true
`), 0600))

	first := NewRootCommand()
	require.NoError(t, first.ParseFlags(nil))
	cfg, err := first.loadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "/etc/feedpass/secret", cfg.Secret.FromFile)

	// The re-exec'd image finds the same default config file.
	next := NewRootCommand()
	require.NoError(t, next.ParseFlags(append(cfg.ReexecArgs(), "--password-from-stdin")))
	reloaded, err := next.loadConfig(cfg.Command)
	require.NoError(t, err)

	assert.True(t, reloaded.Secret.FromStdin)
	assert.Empty(t, reloaded.Secret.FromFile)
	assert.True(t, reloaded.Log.AddSource)

	reloaded.Secret = cfg.Secret
	assert.Equal(t, cfg, reloaded)
}

func TestRoot_MissingCommandIsConfigError(t *testing.T) {
	isolate(t)
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--password-from-env", "PW"})

	err := root.Execute()
	var cfgErr *pkgerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "command", cfgErr.Key)
	assert.Equal(t, shared.ExitConfig, shared.ExitCodeFor(err))
}

func TestRoot_ConflictingSources(t *testing.T) {
	isolate(t)
	root := NewRootCommand()
	root.SetArgs([]string{"--password-from-env", "PW", "--password-from-stdin", "--", "true"})

	err := root.Execute()
	assert.Equal(t, shared.ExitConfig, shared.ExitCodeFor(err))
}

func TestRoot_UnknownFlagIsUsageError(t *testing.T) {
	isolate(t)
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--no-such-flag", "--", "true"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, shared.ExitConfig, shared.ExitCodeFor(err))
}

func TestRoot_CheckAtStartFailureExitsWithStartupCode(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a shell on a pty")
	}
	isolate(t)
	t.Setenv("FEEDPASS_CLI_TEST_PW", "wrong")

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "feedpassd.pid")
	events := filepath.Join(dir, "events.jsonl")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{
		"--password-from-env", "FEEDPASS_CLI_TEST_PW",
		"--check-at-start",
		"--timeout", "5",
		"--pid-file", pidFile,
		"--event-log", events,
		"--log-level", "error",
		"--",
		"/bin/sh", "-c", `printf 'Password: '; read -r reply; [ "$reply" = hunter2 ]`,
	})

	err := root.Execute()
	var checkErr *daemon.StartupCheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, shared.ExitStartupCheck, shared.ExitCodeFor(err))
	assert.NoFileExists(t, pidFile)
	assert.NotContains(t, out.String(), "wrong")

	_, stillSet := os.LookupEnv("FEEDPASS_CLI_TEST_PW")
	assert.False(t, stillSet, "the secret variable is removed from the environment")
}
