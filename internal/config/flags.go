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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

// Flag names shared with the reload path.
const (
	FlagPasswordFromEnv     = "password-from-env"
	FlagPasswordFromFile    = "password-from-file"
	FlagPasswordFromStdin   = "password-from-stdin"
	FlagPasswordFromKeyring = "password-from-keyring"
	FlagConfirmPassword     = "confirm-password"
)

// setting ties one configuration field to its flag and environment
// variable. bind returns a pflag.Value that reads and writes the field of
// the given Config, so the same table drives flag parsing, environment
// overrides and reload arguments.
type setting struct {
	flag   string
	env    string
	usage  string
	isBool bool
	// secretSource settings are never reproduced on reload; the reload
	// path chooses the source itself.
	secretSource bool
	bind         func(c *Config) pflag.Value
}

var settings = []setting{
	{flag: FlagPasswordFromEnv, usage: "read the secret from environment variable `VAR` (the variable is then unset)", secretSource: true,
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Secret.FromEnv) }},
	{flag: FlagPasswordFromFile, usage: "read the secret from the first line of `FILE`", secretSource: true,
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Secret.FromFile) }},
	{flag: FlagPasswordFromStdin, usage: "read the secret from one line of standard input", isBool: true, secretSource: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Secret.FromStdin) }},
	{flag: FlagPasswordFromKeyring, usage: "read the secret from the OS keyring entry `SERVICE/USER`", secretSource: true,
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Secret.FromKeyring) }},
	{flag: FlagConfirmPassword, usage: "ask for the password twice when prompting", isBool: true, secretSource: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Secret.Confirm) }},

	{flag: "reply-to-prompt", env: "FEEDPASS_REPLY_TO_PROMPT", usage: "send the secret after output matching `PROMPT`",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Prompt.Reply) }},
	{flag: "prompt-literal", env: "FEEDPASS_PROMPT_LITERAL", usage: "match the prompt as plain text instead of a regular expression", isBool: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Prompt.Literal) }},
	{flag: "timeout", env: "FEEDPASS_TIMEOUT", usage: "bound each session wait to `SECONDS` (or a duration such as 1m30s); 0 waits forever",
		bind: func(c *Config) pflag.Value { return (*secondsValue)(&c.Prompt.Timeout) }},
	{flag: "send-delay", env: "FEEDPASS_SEND_DELAY", usage: "pause between seeing the prompt and sending the secret",
		bind: func(c *Config) pflag.Value { return (*durationValue)(&c.Prompt.SendDelay) }},
	{flag: "check-at-start", env: "FEEDPASS_CHECK_AT_START", usage: "run one session at startup and exit if it fails", isBool: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Prompt.CheckAtStart) }},
	{flag: "mlock", env: "FEEDPASS_MLOCK", usage: "lock daemon memory so the secret is never swapped out", isBool: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Secret.Mlock) }},

	{flag: "pid-file", env: "FEEDPASS_PID_FILE", usage: "write the daemon PID to `FILE`",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Daemon.PIDFile) }},
	{flag: "event-log", env: "FEEDPASS_EVENT_LOG", usage: "append lifecycle events as JSON lines to `FILE`",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Daemon.EventLog) }},
	{flag: "trigger-file", env: "FEEDPASS_TRIGGER_FILE", usage: "run a session whenever `FILE` is created or written",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Daemon.TriggerFile) }},
	{flag: "spawn-rate", env: "FEEDPASS_SPAWN_RATE", usage: "accept at most `N` spawn triggers per minute; 0 is unlimited",
		bind: func(c *Config) pflag.Value { return (*floatValue)(&c.Daemon.SpawnRate) }},
	{flag: "spawn-burst", env: "FEEDPASS_SPAWN_BURST", usage: "spawn triggers allowed back to back under --spawn-rate",
		bind: func(c *Config) pflag.Value { return (*intValue)(&c.Daemon.SpawnBurst) }},
	{flag: "idle-interval", env: "FEEDPASS_IDLE_INTERVAL", usage: "heartbeat period while idle; 0 disables",
		bind: func(c *Config) pflag.Value { return (*durationValue)(&c.Daemon.IdleInterval) }},

	{flag: "log-level", env: "FEEDPASS_LOG_LEVEL", usage: "log level (trace, debug, info, warn, error)",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Log.Level) }},
	{flag: "log-format", env: "LOG_FORMAT", usage: "log format (text, json)",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Log.Format) }},
	{flag: "log-source", env: "LOG_SOURCE", usage: "add source file and line to log records", isBool: true,
		bind: func(c *Config) pflag.Value { return (*boolValue)(&c.Log.AddSource) }},
	{flag: "metrics-textfile", env: "FEEDPASS_METRICS_TEXTFILE", usage: "write prometheus metrics to `FILE`",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Telemetry.MetricsTextfile) }},
	{flag: "trace-file", env: "FEEDPASS_TRACE_FILE", usage: "write OpenTelemetry spans to `FILE`",
		bind: func(c *Config) pflag.Value { return (*stringValue)(&c.Telemetry.TraceFile) }},
}

// Flags collects command-line values until the configuration they
// override has been loaded.
type Flags struct {
	fs     *pflag.FlagSet
	values *Config
}

// RegisterFlags adds every setting to fs. Defaults shown in help are the
// built-in ones.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	values := Default()
	for _, s := range settings {
		f := fs.VarPF(s.bind(values), s.flag, "", s.usage)
		if s.isBool {
			f.NoOptDefVal = "true"
		}
	}
	return &Flags{fs: fs, values: values}
}

// Apply copies every flag the user set onto cfg. Secret source flags
// replace the file and environment choice as a whole, so a source from the
// config file never combines with one from the command line.
func (f *Flags) Apply(cfg *Config) error {
	if f.sourceChanged() {
		cfg.Secret.FromEnv = ""
		cfg.Secret.FromFile = ""
		cfg.Secret.FromStdin = false
		cfg.Secret.FromKeyring = ""
		cfg.Secret.Confirm = false
	}

	for _, s := range settings {
		if !f.fs.Changed(s.flag) {
			continue
		}
		value := s.bind(f.values).String()
		if err := s.bind(cfg).Set(value); err != nil {
			return &pkgerrors.ConfigError{Key: s.flag, Reason: "invalid value", Cause: err}
		}
	}
	return nil
}

func (f *Flags) sourceChanged() bool {
	for _, s := range settings {
		if s.secretSource && f.fs.Changed(s.flag) {
			return true
		}
	}
	return false
}

// loadFromEnv applies FEEDPASS_* overrides and the shared logging
// variables. LOG_LEVEL and FEEDPASS_DEBUG are honoured as the logger does.
func (c *Config) loadFromEnv(lookup func(string) (string, bool)) error {
	if val, ok := lookup("LOG_LEVEL"); ok && val != "" {
		c.Log.Level = strings.ToLower(val)
	}

	for _, s := range settings {
		if s.env == "" {
			continue
		}
		val, ok := lookup(s.env)
		if !ok || val == "" {
			continue
		}
		if err := s.bind(c).Set(val); err != nil {
			return &pkgerrors.ConfigError{Key: s.env, Reason: "invalid environment value", Cause: err}
		}
	}

	if val, ok := lookup("FEEDPASS_DEBUG"); ok && (val == "1" || strings.ToLower(val) == "true") {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	}
	return nil
}

// ReexecArgs returns flags that reproduce every setting except the secret
// source. Values are emitted in --name=value form so empty strings and
// false booleans survive.
func (c *Config) ReexecArgs() []string {
	args := make([]string, 0, len(settings))
	for _, s := range settings {
		if s.secretSource {
			continue
		}
		args = append(args, fmt.Sprintf("--%s=%s", s.flag, s.bind(c).String()))
	}
	return args
}

// envVars lists the environment variables Load consults.
func envVars() []string {
	vars := []string{"LOG_LEVEL", "FEEDPASS_DEBUG"}
	for _, s := range settings {
		if s.env != "" {
			vars = append(vars, s.env)
		}
	}
	return vars
}

type stringValue string

func (v *stringValue) Set(s string) error { *v = stringValue(s); return nil }
func (v *stringValue) String() string     { return string(*v) }
func (v *stringValue) Type() string       { return "string" }

type boolValue bool

func (v *boolValue) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*v = boolValue(b)
	return nil
}
func (v *boolValue) String() string   { return strconv.FormatBool(bool(*v)) }
func (v *boolValue) Type() string     { return "bool" }
func (v *boolValue) IsBoolFlag() bool { return true }

type intValue int

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = intValue(n)
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(int(*v)) }
func (v *intValue) Type() string   { return "int" }

type floatValue float64

func (v *floatValue) Set(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = floatValue(f)
	return nil
}
func (v *floatValue) String() string { return strconv.FormatFloat(float64(*v), 'g', -1, 64) }
func (v *floatValue) Type() string   { return "float" }

type durationValue time.Duration

func (v *durationValue) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*v = durationValue(d)
	return nil
}
func (v *durationValue) String() string { return time.Duration(*v).String() }
func (v *durationValue) Type() string   { return "duration" }

// secondsValue accepts whole seconds, as the timeout has always been given,
// or a Go duration.
type secondsValue time.Duration

func (v *secondsValue) Set(s string) error {
	if n, err := strconv.Atoi(s); err == nil {
		*v = secondsValue(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("expected seconds or a duration, got %q", s)
	}
	*v = secondsValue(d)
	return nil
}

func (v *secondsValue) String() string {
	d := time.Duration(*v)
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return d.String()
}
func (v *secondsValue) Type() string { return "seconds" }
