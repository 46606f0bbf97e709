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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/feedpass/internal/secret"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Command = []string{"ssh-add", "/home/op/.ssh/id_ed25519"}
	return cfg
}

func requireConfigKey(t *testing.T, err error, key string) {
	t.Helper()
	var cerr *pkgerrors.ConfigError
	require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
	assert.Equal(t, key, cerr.Key)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Password:", cfg.Prompt.Reply)
	assert.Equal(t, time.Duration(0), cfg.Prompt.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Prompt.SendDelay)
	assert.Equal(t, 1, cfg.Daemon.SpawnBurst)
	assert.Equal(t, 10*time.Minute, cfg.Daemon.IdleInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, secret.OriginPrompt, cfg.SecretOrigin())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantKey string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "missing command", modify: func(c *Config) { c.Command = nil }, wantKey: "command"},
		{name: "two sources", modify: func(c *Config) {
			c.Secret.FromEnv = "PW"
			c.Secret.FromStdin = true
		}, wantKey: "secret"},
		{name: "confirm with file", modify: func(c *Config) {
			c.Secret.FromFile = "/run/pw"
			c.Secret.Confirm = true
		}, wantKey: "secret.confirm"},
		{name: "confirm with prompt", modify: func(c *Config) { c.Secret.Confirm = true }},
		{name: "bad keyring entry", modify: func(c *Config) { c.Secret.FromKeyring = "service-only" }, wantKey: "secret.from_keyring"},
		{name: "empty prompt", modify: func(c *Config) { c.Prompt.Reply = "" }, wantKey: "prompt.reply"},
		{name: "invalid regexp", modify: func(c *Config) { c.Prompt.Reply = "([" }, wantKey: "prompt.reply"},
		{name: "invalid regexp as literal", modify: func(c *Config) {
			c.Prompt.Reply = "(["
			c.Prompt.Literal = true
		}},
		{name: "negative timeout", modify: func(c *Config) { c.Prompt.Timeout = -time.Second }, wantKey: "prompt.timeout"},
		{name: "negative send delay", modify: func(c *Config) { c.Prompt.SendDelay = -time.Millisecond }, wantKey: "prompt.send_delay"},
		{name: "negative rate", modify: func(c *Config) { c.Daemon.SpawnRate = -1 }, wantKey: "daemon.spawn_rate"},
		{name: "zero burst", modify: func(c *Config) { c.Daemon.SpawnBurst = 0 }, wantKey: "daemon.spawn_burst"},
		{name: "negative idle", modify: func(c *Config) { c.Daemon.IdleInterval = -time.Minute }, wantKey: "daemon.idle_interval"},
		{name: "bad level", modify: func(c *Config) { c.Log.Level = "loud" }, wantKey: "log.level"},
		{name: "bad format", modify: func(c *Config) { c.Log.Format = "xml" }, wantKey: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			requireConfigKey(t, err, tt.wantKey)
		})
	}
}

func TestSecretOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Secret.FromEnv = "PW"
	assert.Equal(t, secret.OriginEnv, cfg.SecretOrigin())

	cfg = validConfig()
	cfg.Secret.FromKeyring = "login/op"
	assert.Equal(t, secret.OriginKeyring, cfg.SecretOrigin())
	service, user, err := cfg.KeyringEntry()
	require.NoError(t, err)
	assert.Equal(t, "login", service)
	assert.Equal(t, "op", user)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
command: [ssh-add]
prompt:
  reply: "Enter passphrase"
  timeout: 30s
daemon:
  pid_file: /run/user/1000/feedpassd.pid
  spawn_rate: 6
log:
  level: debug
`), 0600))

	t.Setenv("FEEDPASS_PID_FILE", "/tmp/override.pid")
	t.Setenv("FEEDPASS_TIMEOUT", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ssh-add"}, cfg.Command)
	assert.Equal(t, "Enter passphrase", cfg.Prompt.Reply)
	assert.Equal(t, 45*time.Second, cfg.Prompt.Timeout)
	assert.Equal(t, "/tmp/override.pid", cfg.Daemon.PIDFile)
	assert.Equal(t, 6.0, cfg.Daemon.SpawnRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Minute, cfg.Daemon.IdleInterval, "defaults survive partial files")
	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	requireConfigKey(t, err, "config_file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompt:\n  unknown_key: 1\n"), 0600))
	_, err = Load(path)
	requireConfigKey(t, err, "config_file")

	t.Setenv("FEEDPASS_SPAWN_BURST", "many")
	_, err = Load("")
	requireConfigKey(t, err, "FEEDPASS_SPAWN_BURST")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_DebugEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("FEEDPASS_DEBUG", "1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.AddSource)
}

func TestFlags_OverrideOnlyWhatWasSet(t *testing.T) {
	fs := pflag.NewFlagSet("feedpassd", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--timeout", "5", "--mlock", "--password-from-env", "PW", "--spawn-rate=2.5"}))

	cfg := validConfig()
	cfg.Daemon.PIDFile = "/from/file.pid"
	require.NoError(t, flags.Apply(cfg))

	assert.Equal(t, 5*time.Second, cfg.Prompt.Timeout)
	assert.True(t, cfg.Secret.Mlock)
	assert.Equal(t, "PW", cfg.Secret.FromEnv)
	assert.Equal(t, 2.5, cfg.Daemon.SpawnRate)
	assert.Equal(t, "/from/file.pid", cfg.Daemon.PIDFile)
	assert.Equal(t, "Password:", cfg.Prompt.Reply)
}

func TestFlags_SecretSourceReplacesConfiguredSource(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want SecretConfig
	}{
		{
			name: "stdin replaces file and confirm",
			args: []string{"--password-from-stdin"},
			want: SecretConfig{FromStdin: true, Mlock: true},
		},
		{
			name: "env replaces file",
			args: []string{"--password-from-env", "PW"},
			want: SecretConfig{FromEnv: "PW", Mlock: true},
		},
		{
			name: "confirm alone switches to prompting",
			args: []string{"--confirm-password"},
			want: SecretConfig{Confirm: true, Mlock: true},
		},
		{
			name: "no source flag keeps the file",
			args: []string{"--timeout", "3"},
			want: SecretConfig{FromFile: "/etc/feedpass/secret", Confirm: true, Mlock: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("feedpassd", pflag.ContinueOnError)
			flags := RegisterFlags(fs)
			require.NoError(t, fs.Parse(tt.args))

			cfg := validConfig()
			cfg.Secret = SecretConfig{FromFile: "/etc/feedpass/secret", Confirm: true, Mlock: true}
			require.NoError(t, flags.Apply(cfg))
			assert.Equal(t, tt.want, cfg.Secret)
		})
	}
}

func TestFlags_TimeoutAcceptsDuration(t *testing.T) {
	fs := pflag.NewFlagSet("feedpassd", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--timeout=1m30s"}))

	cfg := validConfig()
	require.NoError(t, flags.Apply(cfg))
	assert.Equal(t, 90*time.Second, cfg.Prompt.Timeout)

	fs = pflag.NewFlagSet("feedpassd", pflag.ContinueOnError)
	RegisterFlags(fs)
	assert.Error(t, fs.Parse([]string{"--timeout=soon"}))
}

func TestReexecArgs_RoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Secret.FromEnv = "PW"
	cfg.Secret.Mlock = true
	cfg.Prompt.Reply = "Passphrase for .*:"
	cfg.Prompt.Timeout = 1500 * time.Millisecond
	cfg.Prompt.CheckAtStart = true
	cfg.Prompt.SendDelay = 200 * time.Millisecond
	cfg.Daemon.PIDFile = "/run/feedpassd.pid"
	cfg.Daemon.SpawnRate = 0.5
	cfg.Daemon.SpawnBurst = 3
	cfg.Daemon.IdleInterval = 0
	cfg.Log.Format = "json"
	cfg.Log.AddSource = true
	cfg.Telemetry.TraceFile = "/var/log/feedpass/trace.jsonl"

	args := cfg.ReexecArgs()
	for _, arg := range args {
		assert.NotContains(t, arg, "password-from")
	}
	assert.Contains(t, args, "--timeout=1.5s")
	assert.Contains(t, args, "--event-log=")
	assert.Contains(t, args, "--log-source=true")

	// A fresh image started with these arguments ends up with the same
	// settings, even against a hostile environment.
	t.Setenv("FEEDPASS_MLOCK", "false")
	t.Setenv("FEEDPASS_IDLE_INTERVAL", "1h")
	fresh, err := Load("")
	require.NoError(t, err)

	fs := pflag.NewFlagSet("feedpassd", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse(append(args, "--password-from-env", "PW")))
	require.NoError(t, flags.Apply(fresh))
	fresh.Command = cfg.Command

	assert.Equal(t, cfg, fresh)
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Empty(t, DefaultPath())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "feedpass"), 0700))
	path := filepath.Join(dir, "feedpass", "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0600))
	assert.Equal(t, path, DefaultPath())
}

func TestEnvVars(t *testing.T) {
	vars := envVars()
	assert.Contains(t, vars, "FEEDPASS_PID_FILE")
	assert.Contains(t, vars, "LOG_SOURCE")
	assert.NotContains(t, vars, "")
}
