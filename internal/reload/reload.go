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

// Package reload replaces the running daemon with a fresh image of itself
// while keeping the in-memory secret. Environment secrets are replayed
// through the environment; every other origin goes through a Handoff pipe
// installed as the new image's standard input.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sys/unix"

	internallog "github.com/tombee/feedpass/internal/log"
	"github.com/tombee/feedpass/internal/metrics"
	"github.com/tombee/feedpass/internal/secret"
)

// Flags that tell the new image where its secret is.
const (
	FlagPasswordFromEnv   = "--password-from-env"
	FlagPasswordFromStdin = "--password-from-stdin"
)

// Kind classifies a reload failure.
type Kind string

const (
	// KindHandoffWrite means the secret could not be placed in the handoff
	// pipe. The exec is still attempted.
	KindHandoffWrite Kind = "handoff_write"
	// KindExec means the process image could not be replaced.
	KindExec Kind = "exec"
)

// ReloadError describes a failed reload step.
type ReloadError struct {
	Kind  Kind
	Cause error
}

// Error implements the error interface.
func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload %s failed: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ReloadError) Unwrap() error { return e.Cause }

// ErrorType implements errors.ErrorClassifier.
func (e *ReloadError) ErrorType() string { return "reload" }

// IsRetryable implements errors.ErrorClassifier.
func (e *ReloadError) IsRetryable() bool { return false }

// ExecFunc replaces the process image. It only returns on failure.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Plan is the fully resolved exec call.
type Plan struct {
	Path string
	Argv []string
	Env  []string
}

// Reloader performs the re-exec. The zero value uses the real process
// image, environment and exec.
type Reloader struct {
	// Executable resolves the running binary.
	Executable func() (string, error)
	// Environ returns the environment to inherit.
	Environ func() []string
	// Dup installs the handoff read end as standard input.
	Dup func(oldfd, newfd int) error
	// Exec replaces the image.
	Exec ExecFunc

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
}

// Request describes one reload.
type Request struct {
	// Settings are flags reproducing the configuration, minus the secret
	// source.
	Settings []string
	// Command is the session command, placed after "--".
	Command []string
	Secret  *secret.Secret
	// BeforeExec runs after the handoff is prepared and right before exec,
	// for releasing the pid file and flushing telemetry.
	BeforeExec func()
}

// NewReloader creates a reloader wired to the daemon's telemetry.
func NewReloader(logger *slog.Logger, m *metrics.Collector, tracer trace.Tracer) *Reloader {
	return &Reloader{
		Logger:  internallog.WithComponent(logger, "reload"),
		Metrics: m,
		Tracer:  tracer,
	}
}

// BuildPlan resolves argv and environment for the new image. settings are
// the flags reproducing the daemon configuration, minus the secret source.
// Only env secrets place the value in the environment.
func (r *Reloader) BuildPlan(settings []string, command []string, s *secret.Secret) (*Plan, error) {
	exe, err := r.executable()
	if err != nil {
		return nil, &ReloadError{Kind: KindExec, Cause: fmt.Errorf("cannot resolve executable: %w", err)}
	}

	argv := make([]string, 0, len(settings)+len(command)+4)
	argv = append(argv, exe)
	argv = append(argv, settings...)
	env := r.environ()

	if s.Replayable() {
		argv = append(argv, FlagPasswordFromEnv, s.EnvVar())
		env = setEnv(env, s.EnvVar(), string(s.Value()))
	} else {
		argv = append(argv, FlagPasswordFromStdin)
	}

	argv = append(argv, "--")
	argv = append(argv, command...)
	return &Plan{Path: exe, Argv: argv, Env: env}, nil
}

// Reload replaces the process image. On success it does not return. A
// handoff problem is logged and the exec still goes ahead; any error that
// is returned is a *ReloadError of kind KindExec.
func (r *Reloader) Reload(ctx context.Context, req Request) error {
	s := req.Secret
	logger := r.logger()
	_, span := r.tracer().Start(ctx, "reload", trace.WithAttributes(
		attribute.String("secret.origin", string(s.Origin())),
		attribute.Bool("secret.replayable", s.Replayable()),
	))
	r.Metrics.RecordReload()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		span.End()
		return err
	}

	plan, err := r.BuildPlan(req.Settings, req.Command, s)
	if err != nil {
		return fail(err)
	}

	if !s.Replayable() {
		if err := r.installHandoff(logger, s); err != nil {
			return fail(err)
		}
	}

	logger.Info("reloading",
		slog.String(internallog.OriginKey, string(s.Origin())),
		slog.String("executable", plan.Path))
	// The span must be finished before BeforeExec flushes the exporter.
	span.End()
	if req.BeforeExec != nil {
		req.BeforeExec()
	}

	err = r.exec()(plan.Path, plan.Argv, plan.Env)
	return &ReloadError{Kind: KindExec, Cause: err}
}

// installHandoff fills a pipe with the secret and makes its read end the
// process's standard input, which the new image inherits.
func (r *Reloader) installHandoff(logger *slog.Logger, s *secret.Secret) error {
	h, err := NewHandoff()
	if err != nil {
		return &ReloadError{Kind: KindExec, Cause: err}
	}
	if err := h.Send(s); err != nil {
		logger.Error("secret handoff failed, reloading anyway",
			internallog.Error(&ReloadError{Kind: KindHandoffWrite, Cause: err}))
	}
	if err := r.dup()(h.ReadFd(), 0); err != nil {
		h.Close()
		return &ReloadError{Kind: KindExec, Cause: fmt.Errorf("cannot install handoff as stdin: %w", err)}
	}
	return nil
}

func (r *Reloader) executable() (string, error) {
	if r.Executable != nil {
		return r.Executable()
	}
	return os.Executable()
}

func (r *Reloader) environ() []string {
	if r.Environ != nil {
		return r.Environ()
	}
	return os.Environ()
}

func (r *Reloader) dup() func(int, int) error {
	if r.Dup != nil {
		return r.Dup
	}
	return dupOnto
}

func (r *Reloader) exec() ExecFunc {
	if r.Exec != nil {
		return r.Exec
	}
	return unix.Exec
}

func (r *Reloader) logger() *slog.Logger {
	if r.Logger == nil {
		return internallog.Discard()
	}
	return r.Logger
}

func (r *Reloader) tracer() trace.Tracer {
	if r.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return r.Tracer
}

// setEnv returns env with every entry for key replaced by key=value.
func setEnv(env []string, key, value string) []string {
	out := make([]string, 0, len(env)+1)
	prefix := key + "="
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+value)
}
