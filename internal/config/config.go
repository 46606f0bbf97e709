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

// Package config loads daemon settings. Sources are applied in order:
// built-in defaults, an optional YAML file, FEEDPASS_* environment
// variables, then command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	internallog "github.com/tombee/feedpass/internal/log"
	"github.com/tombee/feedpass/internal/secret"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

// Config is the complete daemon configuration. It never holds the secret
// itself, only where to read it from.
type Config struct {
	// Command is the argv run for every prompt session.
	Command []string `yaml:"command,omitempty"`

	Secret    SecretConfig    `yaml:"secret"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SecretConfig selects the secret source. With no source set the secret is
// prompted for on the controlling terminal.
type SecretConfig struct {
	// FromEnv names the environment variable holding the secret.
	FromEnv string `yaml:"from_env,omitempty"`

	// FromFile is a file whose first line is the secret.
	FromFile string `yaml:"from_file,omitempty"`

	// FromStdin reads one line from standard input.
	FromStdin bool `yaml:"from_stdin,omitempty"`

	// FromKeyring is SERVICE/USER in the OS keyring.
	FromKeyring string `yaml:"from_keyring,omitempty"`

	// Confirm asks twice when prompting.
	Confirm bool `yaml:"confirm,omitempty"`

	// Mlock locks the daemon's memory so the secret is never swapped out.
	Mlock bool `yaml:"mlock,omitempty"`
}

// PromptConfig describes how sessions detect and answer the prompt.
type PromptConfig struct {
	// Reply is the prompt pattern the secret is sent in reply to.
	// Default: Password:
	Reply string `yaml:"reply"`

	// Literal matches Reply as plain text instead of a regular expression.
	Literal bool `yaml:"literal,omitempty"`

	// Timeout bounds each wait of a session. Zero waits forever.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// SendDelay is the pause between seeing the prompt and typing the
	// secret. Default: 50ms
	SendDelay time.Duration `yaml:"send_delay"`

	// CheckAtStart runs one session before serving triggers and exits if
	// it fails.
	CheckAtStart bool `yaml:"check_at_start,omitempty"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	// PIDFile is written at startup and removed at shutdown. Empty means
	// no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// EventLog receives lifecycle events as JSON lines.
	EventLog string `yaml:"event_log,omitempty"`

	// TriggerFile requests a session whenever it is created or written.
	TriggerFile string `yaml:"trigger_file,omitempty"`

	// SpawnRate limits spawn triggers per minute. Zero is unlimited.
	SpawnRate float64 `yaml:"spawn_rate,omitempty"`

	// SpawnBurst is how many spawn triggers may arrive back to back.
	// Default: 1
	SpawnBurst int `yaml:"spawn_burst,omitempty"`

	// IdleInterval is the heartbeat period. Zero disables it.
	// Default: 10m
	IdleInterval time.Duration `yaml:"idle_interval,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format"`

	// AddSource adds file and line to records.
	AddSource bool `yaml:"add_source,omitempty"`
}

// TelemetryConfig configures optional file-based telemetry.
type TelemetryConfig struct {
	// MetricsTextfile is a node-exporter textfile for prometheus metrics.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`

	// TraceFile receives OpenTelemetry spans as JSON.
	TraceFile string `yaml:"trace_file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prompt: PromptConfig{
			Reply:     "Password:",
			SendDelay: 50 * time.Millisecond,
		},
		Daemon: DaemonConfig{
			SpawnBurst:   1,
			IdleInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(internallog.FormatText),
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment. Flags are applied separately, followed
// by Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &pkgerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	if err := cfg.loadFromEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile merges a YAML file over the current values.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// Validate checks the configuration. Every problem is a
// *errors.ConfigError naming the offending setting.
func (c *Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return &pkgerrors.ConfigError{Key: "command", Reason: "a command to run is required",
			Hint: "Give the command after --, e.g. feedpassd --pid-file ~/.feedpassd.pid -- ssh-add"}
	}

	sources := 0
	for _, set := range []bool{c.Secret.FromEnv != "", c.Secret.FromFile != "", c.Secret.FromStdin, c.Secret.FromKeyring != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return &pkgerrors.ConfigError{Key: "secret", Reason: "only one secret source may be given"}
	}
	if sources == 1 && c.Secret.Confirm {
		return &pkgerrors.ConfigError{Key: "secret.confirm", Reason: "confirmation only applies to the interactive prompt"}
	}
	if c.Secret.FromKeyring != "" {
		if _, _, err := c.KeyringEntry(); err != nil {
			return err
		}
	}

	if c.Prompt.Reply == "" {
		return &pkgerrors.ConfigError{Key: "prompt.reply", Reason: "must not be empty"}
	}
	if !c.Prompt.Literal {
		if _, err := regexp.Compile(c.Prompt.Reply); err != nil {
			return &pkgerrors.ConfigError{Key: "prompt.reply", Reason: "invalid regular expression", Cause: err}
		}
	}
	if c.Prompt.SendDelay < 0 {
		return &pkgerrors.ConfigError{Key: "prompt.send_delay", Reason: fmt.Sprintf("must not be negative, got %v", c.Prompt.SendDelay)}
	}
	if c.Prompt.Timeout < 0 {
		return &pkgerrors.ConfigError{Key: "prompt.timeout", Reason: fmt.Sprintf("must not be negative, got %v", c.Prompt.Timeout)}
	}

	if c.Daemon.SpawnRate < 0 {
		return &pkgerrors.ConfigError{Key: "daemon.spawn_rate", Reason: "must not be negative"}
	}
	if c.Daemon.SpawnBurst < 1 {
		return &pkgerrors.ConfigError{Key: "daemon.spawn_burst", Reason: fmt.Sprintf("must be at least 1, got %d", c.Daemon.SpawnBurst)}
	}
	if c.Daemon.IdleInterval < 0 {
		return &pkgerrors.ConfigError{Key: "daemon.idle_interval", Reason: "must not be negative"}
	}

	if !internallog.ValidLevel(c.Log.Level) {
		return &pkgerrors.ConfigError{
			Key:    "log.level",
			Reason: fmt.Sprintf("must be one of [trace, debug, info, warn, error], got %q", c.Log.Level),
		}
	}
	if c.Log.Format != string(internallog.FormatText) && c.Log.Format != string(internallog.FormatJSON) {
		return &pkgerrors.ConfigError{
			Key:    "log.format",
			Reason: fmt.Sprintf("must be one of [json, text], got %q", c.Log.Format),
		}
	}

	return nil
}

// SecretOrigin returns where the secret will be acquired from.
func (c *Config) SecretOrigin() secret.Origin {
	switch {
	case c.Secret.FromEnv != "":
		return secret.OriginEnv
	case c.Secret.FromFile != "":
		return secret.OriginFile
	case c.Secret.FromStdin:
		return secret.OriginStdin
	case c.Secret.FromKeyring != "":
		return secret.OriginKeyring
	}
	return secret.OriginPrompt
}

// KeyringEntry splits Secret.FromKeyring into service and user.
func (c *Config) KeyringEntry() (service, user string, err error) {
	service, user, ok := strings.Cut(c.Secret.FromKeyring, "/")
	if !ok || service == "" || user == "" {
		return "", "", &pkgerrors.ConfigError{
			Key:    "secret.from_keyring",
			Reason: fmt.Sprintf("must be SERVICE/USER, got %q", c.Secret.FromKeyring),
		}
	}
	return service, user, nil
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() *internallog.Config {
	cfg := internallog.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = internallog.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}
