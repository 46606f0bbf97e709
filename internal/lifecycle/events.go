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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event represents one daemon lifecycle event. Events never carry the
// secret value.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "start", "stop", "reload", "session", etc.
	PID       int       `json:"pid,omitempty"`
	Version   string    `json:"version,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Duration  int64     `json:"duration_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLogger appends lifecycle events as JSON lines to a file. A nil
// *EventLogger or an empty path disables logging.
type EventLogger struct {
	mu      sync.Mutex
	logPath string
	now     func() time.Time
}

// NewEventLogger creates a new lifecycle event logger.
func NewEventLogger(logPath string) *EventLogger {
	return &EventLogger{
		logPath: logPath,
		now:     time.Now,
	}
}

// LogStart logs a daemon start with the origin the secret came from.
func (l *EventLogger) LogStart(pid int, version, origin string) error {
	return l.writeEvent(Event{
		Event:   "start",
		PID:     pid,
		Version: version,
		Origin:  origin,
		Success: true,
		Message: "Daemon started",
	})
}

// LogStartFailure logs a fatal startup error.
func (l *EventLogger) LogStartFailure(pid int, err error) error {
	return l.writeEvent(Event{
		Event:   "start_failure",
		PID:     pid,
		Success: false,
		Message: "Daemon failed to start",
		Error:   errString(err),
	})
}

// LogSession logs the outcome of one prompt session.
func (l *EventLogger) LogSession(sessionID string, exitCode int, duration time.Duration, err error) error {
	return l.writeEvent(Event{
		Event:     "session",
		SessionID: sessionID,
		ExitCode:  exitCode,
		Duration:  duration.Milliseconds(),
		Success:   err == nil,
		Error:     errString(err),
	})
}

// LogStop logs the daemon exiting with exitCode.
func (l *EventLogger) LogStop(pid int, exitCode int) error {
	return l.writeEvent(Event{
		Event:    "stop",
		PID:      pid,
		ExitCode: exitCode,
		Success:  true,
		Message:  "Daemon stopped",
	})
}

// LogReload logs a reload handoff before the process image is replaced.
func (l *EventLogger) LogReload(pid int, origin string, err error) error {
	message := "Reloading by re-exec"
	if err != nil {
		message = "Reload failed"
	}
	return l.writeEvent(Event{
		Event:   "reload",
		PID:     pid,
		Origin:  origin,
		Success: err == nil,
		Message: message,
		Error:   errString(err),
	})
}

// LogStalePID logs detection of a stale PID file.
func (l *EventLogger) LogStalePID(pid int, reason string) error {
	return l.writeEvent(Event{
		Event:   "stale_pid_detected",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Stale PID file detected and replaced: %s", reason),
	})
}

// writeEvent appends a lifecycle event to the log file.
func (l *EventLogger) writeEvent(event Event) error {
	if l == nil || l.logPath == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now()

	logDir := filepath.Dir(l.logPath)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
