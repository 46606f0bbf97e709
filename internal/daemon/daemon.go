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

// Package daemon holds the secret for the lifetime of the process and
// turns triggers into prompt sessions, reloads and shutdown. A single event
// loop owns all daemon state; sessions run on a worker goroutine and report
// back to the loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/feedpass/internal/config"
	"github.com/tombee/feedpass/internal/lifecycle"
	internallog "github.com/tombee/feedpass/internal/log"
	"github.com/tombee/feedpass/internal/metrics"
	"github.com/tombee/feedpass/internal/reload"
	"github.com/tombee/feedpass/internal/secret"
	"github.com/tombee/feedpass/internal/session"
	"github.com/tombee/feedpass/internal/tracing"
	"github.com/tombee/feedpass/internal/trigger"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
	"github.com/tombee/feedpass/pkg/security"
)

// DaemonName is the process name the pid file is checked against.
const DaemonName = lifecycle.DaemonName

// Exit codes recorded in the event log.
const (
	shutdownExitCode     = 130
	startupCheckExitCode = 4
	reloadExitCode       = 5
)

// sessionStopTimeout bounds how long shutdown waits for a cancelled session
// to report back.
const sessionStopTimeout = 2 * time.Second

// ErrShutdownRequested is returned by Run after an operator shutdown.
var ErrShutdownRequested = errors.New("shutdown requested")

// SessionRunner runs one prompt session.
type SessionRunner interface {
	Run(ctx context.Context, cfg session.Config, s *secret.Secret) (*session.Result, error)
}

// Reloader replaces the process image. Reload only returns on failure.
type Reloader interface {
	Reload(ctx context.Context, req reload.Request) error
}

// StartupCheckError is returned by Start when the check-at-start session
// fails or the command exits non-zero.
type StartupCheckError struct {
	Exit  session.ExitStatus
	Cause error
}

// Error implements the error interface.
func (e *StartupCheckError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("startup check failed: %v", e.Cause)
	}
	return fmt.Sprintf("startup check failed: command ended with %s", e.Exit)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StartupCheckError) Unwrap() error { return e.Cause }

// ErrorType implements errors.ErrorClassifier.
func (e *StartupCheckError) ErrorType() string { return "startup_check" }

// IsRetryable implements errors.ErrorClassifier.
func (e *StartupCheckError) IsRetryable() bool { return false }

// Suggestion implements errors.UserVisibleError.
func (e *StartupCheckError) Suggestion() string {
	return "Check the password and the prompt pattern, then restart"
}

// Options wires the daemon to its collaborators. Only Config is required.
type Options struct {
	Config  *config.Config
	Version string
	Logger  *slog.Logger

	// Stdin is read for --password-from-stdin. Defaults to os.Stdin.
	Stdin io.Reader
	// Output receives session pass-through. Defaults to os.Stdout.
	Output io.Writer

	Runner   SessionRunner
	Reloader Reloader
	Metrics  *metrics.Collector
	Tracing  *tracing.Provider
	Events   *lifecycle.EventLogger

	// Acquire reads the secret. Defaults to secret.Acquire.
	Acquire func(ctx context.Context, src secret.Source) (*secret.Secret, error)

	// Triggers replaces the signal and trigger-file sources.
	Triggers <-chan trigger.Trigger
}

type sessionOutcome struct {
	result *session.Result
	err    error
}

// Daemon is one feedpassd instance.
type Daemon struct {
	cfg        *config.Config
	opts       Options
	logger     *slog.Logger
	sessionCfg session.Config
	limiter    *rate.Limiter

	secret       *secret.Secret
	pidFile      *lifecycle.PIDFileManager
	triggers     <-chan trigger.Trigger
	stopTriggers context.CancelFunc
	memoryLocked bool

	// Loop state. Only the goroutine running Start and Run touches it.
	active        bool
	cancelSession context.CancelFunc
	done          chan sessionOutcome
	reloadPending bool
	cleanedUp     bool

	eventLogFailed bool
}

// New validates the configuration and prepares a daemon. Nothing is
// acquired or written until Start.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, &pkgerrors.ConfigError{Key: "config", Reason: "configuration is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompt, err := session.CompilePrompt(cfg.Prompt.Reply, cfg.Prompt.Literal)
	if err != nil {
		return nil, &pkgerrors.ConfigError{Key: "prompt.reply", Reason: "invalid prompt", Cause: err}
	}

	if opts.Logger == nil {
		opts.Logger = internallog.Discard()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Acquire == nil {
		opts.Acquire = secret.Acquire
	}
	tracer := opts.Tracing.Tracer()
	if opts.Runner == nil {
		opts.Runner = session.NewRunner(opts.Logger, opts.Metrics, tracer)
	}
	if opts.Reloader == nil {
		opts.Reloader = reload.NewReloader(opts.Logger, opts.Metrics, tracer)
	}

	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: internallog.WithComponent(opts.Logger, "daemon"),
		sessionCfg: session.Config{
			Command:   cfg.Command,
			Prompt:    prompt,
			Timeout:   cfg.Prompt.Timeout,
			SendDelay: cfg.Prompt.SendDelay,
			Output:    opts.Output,
		},
		done: make(chan sessionOutcome, 1),
	}
	if cfg.Daemon.SpawnRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Daemon.SpawnRate/60), cfg.Daemon.SpawnBurst)
	}
	if cfg.Daemon.PIDFile != "" {
		d.pidFile = lifecycle.NewPIDFileManager(cfg.Daemon.PIDFile)
	}
	return d, nil
}

// Start acquires the secret, installs the triggers, writes the pid file and
// runs the check-at-start session if configured. Any error is fatal; what
// was set up is torn down before it returns.
func (d *Daemon) Start(ctx context.Context) error {
	pid := os.Getpid()

	d.checkPermissionsAtStartup()

	if d.cfg.Secret.Mlock {
		if err := secret.LockMemory(); err != nil {
			d.logger.Warn("memory lock failed, the secret may be swapped out", internallog.Error(err))
		} else {
			d.memoryLocked = true
		}
	}

	s, err := d.opts.Acquire(ctx, d.source())
	if err != nil {
		d.recordEvent(d.opts.Events.LogStartFailure(pid, err))
		d.unlockMemory()
		return err
	}
	d.secret = s
	d.logger.Info("secret acquired", slog.Any("secret", s))

	// Handlers go in before the pid file exists so that nobody who can
	// read it can kill the daemon with a default signal action.
	if err := d.installTriggers(); err != nil {
		return d.abortStart(pid, err)
	}

	if d.pidFile != nil {
		stale, err := d.pidFile.CreateReplacingStale(pid, lifecycle.IsDaemonProcess)
		if err != nil {
			d.pidFile = nil
			return d.abortStart(pid, fmt.Errorf("failed to write PID file: %w", err))
		}
		if stale != 0 {
			d.logger.Warn("replaced stale PID file",
				slog.Int("stale_pid", stale),
				slog.String("path", d.pidFile.Path()))
			d.recordEvent(d.opts.Events.LogStalePID(stale, "not a running "+DaemonName))
		}
	}

	d.recordEvent(d.opts.Events.LogStart(pid, d.opts.Version, string(s.Origin())))
	d.logger.Info(DaemonName+" starting",
		slog.Int(internallog.PIDKey, pid),
		slog.String("version", d.opts.Version),
		slog.String(internallog.OriginKey, string(s.Origin())),
		slog.String("command", strings.Join(d.cfg.Command, " ")))

	if d.cfg.Prompt.CheckAtStart {
		return d.checkAtStart(ctx)
	}
	return nil
}

// Run serves triggers until shutdown, a failed reload or ctx ending. It
// returns ErrShutdownRequested after an operator shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if d.reloadPending {
		d.reloadPending = false
		if err := d.reload(ctx); err != nil {
			return err
		}
	}

	var heartbeat <-chan time.Time
	if iv := d.cfg.Daemon.IdleInterval; iv > 0 {
		ticker := time.NewTicker(iv)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.stopSession()
			d.cleanup(shutdownExitCode)
			return ctx.Err()

		case t, ok := <-d.triggers:
			if !ok {
				d.triggers = nil
				continue
			}
			if err := d.handle(ctx, t); err != nil {
				return err
			}

		case out := <-d.done:
			d.finishSession(out)
			if d.reloadPending {
				d.reloadPending = false
				if err := d.reload(ctx); err != nil {
					return err
				}
			}

		case <-heartbeat:
			d.logger.Debug("idle", slog.Bool("session_active", d.active))
			if err := d.opts.Metrics.Flush(); err != nil {
				d.logger.Warn("failed to write metrics", internallog.Error(err))
			}
		}
	}
}

// handle applies one trigger. A non-nil error ends the loop.
func (d *Daemon) handle(ctx context.Context, t trigger.Trigger) error {
	logger := d.logger.With(
		slog.String(internallog.TriggerKey, t.Kind.String()),
		slog.String("source", t.Source))

	switch t.Kind {
	case trigger.Spawn:
		if d.active {
			logger.Info("spawn ignored, a session is already running")
			d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionIgnored)
			return nil
		}
		if d.limiter != nil && !d.limiter.Allow() {
			logger.Warn("spawn dropped by rate limit",
				slog.Float64("per_minute", d.cfg.Daemon.SpawnRate))
			d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionLimited)
			return nil
		}
		d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionHandled)
		d.startSession(ctx)
		return nil

	case trigger.Shutdown:
		logger.Info("shutdown requested")
		d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionHandled)
		d.stopSession()
		d.cleanup(shutdownExitCode)
		return ErrShutdownRequested

	case trigger.Reload:
		if d.active {
			logger.Info("reload deferred until the session ends")
			d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionDeferred)
			d.reloadPending = true
			return nil
		}
		d.opts.Metrics.RecordTrigger(t.Kind.String(), metrics.ActionHandled)
		return d.reload(ctx)
	}

	logger.Warn("unknown trigger ignored")
	return nil
}

func (d *Daemon) startSession(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	d.active = true
	d.cancelSession = cancel

	go func() {
		res, err := d.opts.Runner.Run(sctx, d.sessionCfg, d.secret)
		d.done <- sessionOutcome{result: res, err: err}
	}()
}

// finishSession records a session that reported back.
func (d *Daemon) finishSession(out sessionOutcome) {
	d.active = false
	if d.cancelSession != nil {
		d.cancelSession()
		d.cancelSession = nil
	}

	var (
		id       string
		code     int
		duration time.Duration
	)
	if out.result != nil {
		id = out.result.ID
		code = out.result.Exit.Code
		duration = out.result.Duration
	}
	d.recordEvent(d.opts.Events.LogSession(id, code, duration, out.err))

	if out.err != nil {
		d.logger.Debug("session ended with error", internallog.Error(out.err))
	}
	if err := d.opts.Metrics.Flush(); err != nil {
		d.logger.Warn("failed to write metrics", internallog.Error(err))
	}
	d.flushTracing()
}

func (d *Daemon) flushTracing() {
	if d.opts.Tracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.opts.Tracing.ForceFlush(ctx); err != nil {
		d.logger.Warn("failed to write trace spans", internallog.Error(err))
	}
}

// stopSession cancels the running session, which kills the child, and
// waits briefly for the worker to report.
func (d *Daemon) stopSession() {
	if !d.active {
		return
	}
	d.cancelSession()

	timer := time.NewTimer(sessionStopTimeout)
	defer timer.Stop()
	select {
	case out := <-d.done:
		d.finishSession(out)
	case <-timer.C:
		d.logger.Warn("session did not stop in time", slog.Duration("timeout", sessionStopTimeout))
		d.active = false
	}
}

// checkAtStart runs one session before the loop and keeps serving triggers
// while it runs, so a shutdown is still observed.
func (d *Daemon) checkAtStart(ctx context.Context) error {
	d.logger.Info("running startup check")
	d.startSession(ctx)

	for {
		select {
		case <-ctx.Done():
			d.stopSession()
			d.cleanup(shutdownExitCode)
			return ctx.Err()

		case t, ok := <-d.triggers:
			if !ok {
				d.triggers = nil
				continue
			}
			if err := d.handle(ctx, t); err != nil {
				return err
			}

		case out := <-d.done:
			d.finishSession(out)
			var checkErr error
			switch {
			case out.err != nil:
				checkErr = &StartupCheckError{Cause: out.err}
			case out.result != nil && !out.result.Exit.Success():
				checkErr = &StartupCheckError{Exit: out.result.Exit}
			}
			if checkErr != nil {
				d.logger.Error("startup check failed", internallog.Error(checkErr))
				d.recordEvent(d.opts.Events.LogStartFailure(os.Getpid(), checkErr))
				d.cleanup(startupCheckExitCode)
				return checkErr
			}
			d.logger.Info("startup check passed")
			return nil
		}
	}
}

// reload re-execs the daemon. It only returns when the exec failed.
func (d *Daemon) reload(ctx context.Context) error {
	pid := os.Getpid()
	origin := string(d.secret.Origin())

	err := d.opts.Reloader.Reload(ctx, reload.Request{
		Settings: d.cfg.ReexecArgs(),
		Command:  d.cfg.Command,
		Secret:   d.secret,
		BeforeExec: func() {
			d.recordEvent(d.opts.Events.LogReload(pid, origin, nil))
			d.releaseForExec()
		},
	})
	if err == nil {
		err = &reload.ReloadError{Kind: reload.KindExec, Cause: errors.New("reload returned without replacing the process")}
	}

	d.logger.Error("reload failed", internallog.Error(err))
	d.recordEvent(d.opts.Events.LogReload(pid, origin, err))
	d.cleanup(reloadExitCode)
	return err
}

// releaseForExec hands process-wide resources over to the new image.
func (d *Daemon) releaseForExec() {
	trigger.IgnoreAcrossExec()
	if d.stopTriggers != nil {
		d.stopTriggers()
	}
	d.removePIDFile()
	if err := d.opts.Metrics.Flush(); err != nil {
		d.logger.Warn("failed to write metrics", internallog.Error(err))
	}
	d.shutdownTracing()
}

// abortStart tears down a partial start.
func (d *Daemon) abortStart(pid int, err error) error {
	d.recordEvent(d.opts.Events.LogStartFailure(pid, err))
	if d.stopTriggers != nil {
		d.stopTriggers()
	}
	d.removePIDFile()
	d.releaseSecret()
	d.unlockMemory()
	return err
}

// cleanup runs once on every exit path after a successful acquisition.
func (d *Daemon) cleanup(exitCode int) {
	if d.cleanedUp {
		return
	}
	d.cleanedUp = true

	if d.stopTriggers != nil {
		d.stopTriggers()
	}
	d.removePIDFile()
	d.recordEvent(d.opts.Events.LogStop(os.Getpid(), exitCode))
	if err := d.opts.Metrics.Flush(); err != nil {
		d.logger.Warn("failed to write metrics", internallog.Error(err))
	}
	d.shutdownTracing()
	d.releaseSecret()
	d.unlockMemory()
	d.logger.Info("daemon stopped", slog.Int("exit_code", exitCode))
}

// recordEvent reports the first event log failure. Later ones are dropped
// so a broken --event-log does not flood the log.
func (d *Daemon) recordEvent(err error) {
	if err == nil || d.eventLogFailed {
		return
	}
	d.eventLogFailed = true
	d.logger.Warn("failed to write event log, further failures are not reported",
		internallog.Error(err),
		slog.String("path", d.cfg.Daemon.EventLog))
}

func (d *Daemon) removePIDFile() {
	if d.pidFile == nil {
		return
	}
	if err := d.pidFile.Remove(); err != nil {
		d.logger.Error("failed to remove PID file",
			internallog.Error(err),
			slog.String("path", d.pidFile.Path()))
	}
	d.pidFile = nil
}

func (d *Daemon) shutdownTracing() {
	if d.opts.Tracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.opts.Tracing.Shutdown(ctx); err != nil {
		d.logger.Error("tracing shutdown error", internallog.Error(err))
	}
}

func (d *Daemon) releaseSecret() {
	if d.secret != nil {
		d.secret.Release()
	}
}

func (d *Daemon) unlockMemory() {
	if !d.memoryLocked {
		return
	}
	if err := secret.UnlockMemory(); err != nil {
		d.logger.Debug("memory unlock failed", internallog.Error(err))
	}
	d.memoryLocked = false
}

// installTriggers subscribes to signals and the trigger file, unless the
// caller supplied its own trigger channel.
func (d *Daemon) installTriggers() error {
	if d.opts.Triggers != nil {
		d.triggers = d.opts.Triggers
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	inputs := []<-chan trigger.Trigger{trigger.Notify(ctx)}

	if path := d.cfg.Daemon.TriggerFile; path != "" {
		w, err := trigger.NewFileWatcher(path, trigger.DefaultDebounce, d.opts.Logger)
		if err != nil {
			cancel()
			return &pkgerrors.ConfigError{Key: "daemon.trigger_file", Reason: "cannot watch trigger file", Cause: err}
		}
		inputs = append(inputs, w.Start(ctx))
	}

	d.triggers = trigger.Merge(ctx, inputs...)
	d.stopTriggers = cancel
	return nil
}

// checkPermissionsAtStartup warns about files other users could read.
func (d *Daemon) checkPermissionsAtStartup() {
	type target struct {
		path      string
		sensitive bool
	}
	targets := []target{
		{d.cfg.Secret.FromFile, true},
		{d.cfg.Daemon.EventLog, false},
	}
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		for _, warning := range security.CheckPermissions(t.path, t.sensitive) {
			d.logger.Warn("security warning", slog.String("warning", warning))
		}
	}
}

// source maps the configuration onto an acquisition request.
func (d *Daemon) source() secret.Source {
	src := secret.Source{
		Origin:  d.cfg.SecretOrigin(),
		EnvVar:  d.cfg.Secret.FromEnv,
		File:    d.cfg.Secret.FromFile,
		Stdin:   d.opts.Stdin,
		Confirm: d.cfg.Secret.Confirm,
		Label:   strings.Join(d.cfg.Command, " "),
	}
	if src.Origin == secret.OriginKeyring {
		src.KeyringService, src.KeyringUser, _ = d.cfg.KeyringEntry()
	}
	return src
}
