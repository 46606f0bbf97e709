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

// Package session drives one prompt session: it runs the configured command
// on a pseudo-terminal, waits for the prompt, types the secret once and
// reaps the child.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	internallog "github.com/tombee/feedpass/internal/log"
	"github.com/tombee/feedpass/internal/metrics"
	"github.com/tombee/feedpass/internal/secret"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
	"github.com/tombee/feedpass/pkg/secrets"
)

// DefaultPrompt is matched when no prompt is configured.
const DefaultPrompt = "Password:"

// DefaultSendDelay is the pause between matching the prompt and typing the
// secret.
const DefaultSendDelay = 50 * time.Millisecond

// promptWindow bounds how much recent output is kept for prompt matching.
const promptWindow = 4096

// CompilePrompt compiles a prompt pattern. With literal set the pattern is
// matched as plain text.
func CompilePrompt(pattern string, literal bool) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("prompt pattern is empty")
	}
	if literal {
		pattern = regexp.QuoteMeta(pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt pattern: %w", err)
	}
	return re, nil
}

// Config describes what every session runs. It is fixed for the daemon
// lifetime.
type Config struct {
	// Command is the argv of the child. Must be non-empty.
	Command []string

	// Prompt is matched against the child's recent output.
	Prompt *regexp.Regexp

	// Timeout bounds the prompt wait and the exit wait separately.
	// Zero waits forever.
	Timeout time.Duration

	// SendDelay is waited after the prompt matches and before the secret is
	// written. Programs that turn echo off with TCSAFLUSH after printing the
	// prompt discard anything typed before that call. The wait ends early
	// when the prompt timeout runs out. Zero sends at once.
	SendDelay time.Duration

	// Output receives the child's output with the secret redacted.
	// Nil discards it.
	Output io.Writer

	// Env is the child environment. Nil inherits the daemon's.
	Env []string
}

// Validate checks the fields Run depends on.
func (c Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.New("session command is empty")
	}
	if c.Prompt == nil {
		return errors.New("session prompt is not set")
	}
	if c.Timeout < 0 {
		return errors.New("session timeout is negative")
	}
	if c.SendDelay < 0 {
		return errors.New("session send delay is negative")
	}
	return nil
}

// Starter starts cmd attached to a new pseudo-terminal and returns the
// master side.
type Starter func(cmd *exec.Cmd) (*os.File, error)

// PTYStarter starts cmd in a new session on a 80x24 pty.
func PTYStarter(cmd *exec.Cmd) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
}

// ExitStatus is how the child ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal.
	Code int
	// Signal is the terminating signal, if any.
	Signal syscall.Signal
}

// Success reports a zero exit code.
func (e ExitStatus) Success() bool { return e.Code == 0 && e.Signal == 0 }

func (e ExitStatus) String() string {
	if e.Signal != 0 {
		return "signal: " + e.Signal.String()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Result describes a completed session.
type Result struct {
	ID       string
	Exit     ExitStatus
	Duration time.Duration
}

// Runner runs prompt sessions. The zero value is usable and runs commands
// on a real pty without logging, metrics or tracing.
type Runner struct {
	Start   Starter
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer

	// OnTransition observes every state change.
	OnTransition func(id string, from, to State)

	newID func() string
}

// NewRunner creates a runner wired to the daemon's logger, metrics and
// tracer.
func NewRunner(logger *slog.Logger, m *metrics.Collector, tracer trace.Tracer) *Runner {
	return &Runner{
		Start:   PTYStarter,
		Logger:  internallog.WithComponent(logger, "session"),
		Metrics: m,
		Tracer:  tracer,
	}
}

// Run executes one session with the given secret. A non-zero child exit
// is reported in the result, not as an error. Every failure is a
// *SessionError, and the child is killed and reaped in the background.
func (r *Runner) Run(ctx context.Context, cfg Config, s *secret.Secret) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := r.id()
	logger := internallog.WithSession(r.logger(), id)
	started := time.Now()

	ctx, span := r.tracer().Start(ctx, "prompt_session", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("session.command", filepath.Base(cfg.Command[0])),
		attribute.Int64("session.timeout_ms", cfg.Timeout.Milliseconds()),
		attribute.Int64("session.send_delay_ms", cfg.SendDelay.Milliseconds()),
	))
	defer span.End()

	a := &attempt{runner: r, cfg: cfg, id: id, logger: logger}
	exit, err := a.run(ctx, s)
	res := &Result{ID: id, Exit: exit, Duration: time.Since(started)}

	var serr *SessionError
	if errors.As(err, &serr) {
		r.Metrics.RecordSession(string(serr.Kind), res.Duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(serr.Kind))
		logger.Warn("prompt session failed",
			slog.String(internallog.PhaseKey, serr.Phase.String()),
			slog.String("kind", string(serr.Kind)),
			slog.Duration("timeout", serr.Timeout),
			internallog.Duration(res.Duration))
		return res, err
	}

	r.Metrics.RecordSession("", res.Duration)
	r.Metrics.RecordChildExit(exit.Code)
	span.SetAttributes(attribute.Int("session.exit_code", exit.Code))
	logger.Info("prompt session completed",
		slog.String("exit", exit.String()),
		internallog.Duration(res.Duration))
	return res, nil
}

func (r *Runner) id() string {
	if r.newID != nil {
		return r.newID()
	}
	return uuid.NewString()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return internallog.Discard()
	}
	return r.Logger
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return r.Tracer
}

func (r *Runner) starter() Starter {
	if r.Start == nil {
		return PTYStarter
	}
	return r.Start
}

// attempt is the state of a single session. It is confined to the
// goroutine calling Run, apart from the output pump.
type attempt struct {
	runner *Runner
	cfg    Config
	id     string
	logger *slog.Logger

	state  State
	cmd    *exec.Cmd
	ptmx   *os.File
	chunks chan []byte
	waited chan error
}

func (a *attempt) run(ctx context.Context, s *secret.Secret) (ExitStatus, error) {
	a.state = Spawning

	masker := secrets.NewMasker(s.Value())
	defer masker.Wipe()
	sink := a.cfg.Output
	if sink == nil {
		sink = io.Discard
	}
	out := masker.NewWriter(sink)
	defer out.Flush()

	cmd := exec.Command(a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Env = a.cfg.Env
	ptmx, err := a.runner.starter()(cmd)
	if err != nil {
		return ExitStatus{}, a.fail(KindSpawn, 0, err)
	}
	a.cmd, a.ptmx = cmd, ptmx
	a.logger.Debug("child started", slog.Int(internallog.PIDKey, cmd.Process.Pid))

	a.chunks = make(chan []byte, 16)
	go a.pump()

	a.transition(AwaitingPrompt)
	if err := a.awaitPrompt(ctx, out); err != nil {
		a.abort()
		return ExitStatus{}, err
	}

	a.transition(Sent)
	line := s.Line()
	if _, err := a.ptmx.Write(line); err != nil {
		a.logger.Warn("failed to write secret to child", internallog.Error(err))
	}
	clear(line)

	a.transition(AwaitingExit)
	exit, err := a.awaitExit(ctx, out)
	if err != nil {
		a.abort()
		return ExitStatus{}, err
	}

	a.ptmx.Close()
	a.transition(Completed)
	return exit, nil
}

// pump copies pty output into chunks until end of output. The master
// reports EIO once every slave descriptor is closed, which is the normal
// end on Linux.
func (a *attempt) pump() {
	defer close(a.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 {
			internallog.Trace(a.logger, "pty read", slog.Int("bytes", n))
			data := make([]byte, n)
			copy(data, buf[:n])
			a.chunks <- data
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				a.logger.Debug("pty read ended", internallog.Error(err))
			}
			return
		}
	}
}

func (a *attempt) awaitPrompt(ctx context.Context, out io.Writer) error {
	timeout, stop := a.timer()
	defer stop()

	var window []byte
	for {
		select {
		case data, ok := <-a.chunks:
			if !ok {
				return a.fail(KindPromptNotFound, 0, nil)
			}
			out.Write(data)
			window = append(window, data...)
			if a.cfg.Prompt.Match(window) {
				return a.settle(ctx, out, timeout)
			}
			if len(window) > promptWindow {
				window = append([]byte(nil), window[len(window)-promptWindow:]...)
			}
		case <-timeout:
			return a.fail(KindPromptTimeout, a.cfg.Timeout, &pkgerrors.TimeoutError{
				Operation: "await prompt",
				Duration:  a.cfg.Timeout,
			})
		case <-ctx.Done():
			return a.fail(KindCancelled, 0, ctx.Err())
		}
	}
}

// settle waits SendDelay after the prompt matched, still mirroring output.
func (a *attempt) settle(ctx context.Context, out io.Writer, timeout <-chan time.Time) error {
	if a.cfg.SendDelay <= 0 {
		return nil
	}
	delay := time.NewTimer(a.cfg.SendDelay)
	defer delay.Stop()

	chunks := a.chunks
	for {
		select {
		case data, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out.Write(data)
		case <-delay.C:
			return nil
		case <-timeout:
			return nil
		case <-ctx.Done():
			return a.fail(KindCancelled, 0, ctx.Err())
		}
	}
}

func (a *attempt) awaitExit(ctx context.Context, out io.Writer) (ExitStatus, error) {
	timeout, stop := a.timer()
	defer stop()

	exitTimeout := func() error {
		return a.fail(KindExitWaitTimeout, a.cfg.Timeout, &pkgerrors.TimeoutError{
			Operation: "await end of output",
			Duration:  a.cfg.Timeout,
		})
	}

	for chunks := a.chunks; chunks != nil; {
		select {
		case data, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out.Write(data)
		case <-timeout:
			return ExitStatus{}, exitTimeout()
		case <-ctx.Done():
			return ExitStatus{}, a.fail(KindCancelled, 0, ctx.Err())
		}
	}

	select {
	case err := <-a.reap():
		return a.exitStatus(err), nil
	case <-timeout:
		return ExitStatus{}, exitTimeout()
	case <-ctx.Done():
		return ExitStatus{}, a.fail(KindCancelled, 0, ctx.Err())
	}
}

// reap starts waiting for the child once and returns the result channel.
func (a *attempt) reap() <-chan error {
	if a.waited == nil {
		a.waited = make(chan error, 1)
		go func() { a.waited <- a.cmd.Wait() }()
	}
	return a.waited
}

func (a *attempt) exitStatus(err error) ExitStatus {
	state := a.cmd.ProcessState
	if state == nil {
		a.logger.Warn("failed to reap child", internallog.Error(err))
		return ExitStatus{Code: -1}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{Code: state.ExitCode()}
}

// abort kills the child's process group and reaps it in the background.
func (a *attempt) abort() {
	pid := a.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = a.cmd.Process.Kill()
	}
	a.logger.Debug("child killed", slog.Int(internallog.PIDKey, pid))

	chunks := a.chunks
	go func() {
		for range chunks {
		}
	}()
	waited := a.reap()
	ptmx := a.ptmx
	go func() {
		<-waited
		ptmx.Close()
	}()
}

func (a *attempt) timer() (<-chan time.Time, func()) {
	if a.cfg.Timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(a.cfg.Timeout)
	return t.C, func() { t.Stop() }
}

func (a *attempt) fail(kind Kind, timeout time.Duration, cause error) error {
	err := &SessionError{Kind: kind, Phase: a.state, Timeout: timeout, Cause: cause}
	a.transition(Failed)
	return err
}

func (a *attempt) transition(to State) {
	from := a.state
	a.state = to
	a.logger.Debug("session state", slog.String(internallog.PhaseKey, to.String()))
	a.notify(from, to)
}

func (a *attempt) notify(from, to State) {
	if a.runner.OnTransition != nil {
		a.runner.OnTransition(a.id, from, to)
	}
}
