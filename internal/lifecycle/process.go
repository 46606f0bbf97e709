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
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DaemonName is the executable name a pid must belong to before feedpassd
// treats it as a running daemon.
const DaemonName = "feedpassd"

var (
	// ErrProcessNotRunning is returned when nothing runs under the pid.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process outlives the wait.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// exitPollInterval is how often Stop and WaitForExit look for the process.
const exitPollInterval = 50 * time.Millisecond

// IsProcessRunning reports whether pid exists. A process owned by another
// user counts as running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsDaemonProcess reports whether pid is a running feedpassd. A pid file
// can outlive its daemon and the pid be reused, so callers check this
// before signalling or before refusing to replace the file.
func IsDaemonProcess(pid int) bool {
	if !IsProcessRunning(pid) {
		return false
	}
	name, err := processName(pid)
	return err == nil && name == DaemonName
}

// SendSignal delivers sig to pid.
func SendSignal(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForExit polls until pid is gone or timeout passes.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(exitPollInterval)
	defer tick.Stop()

	for {
		if !IsProcessRunning(pid) {
			return nil
		}
		select {
		case <-deadline.C:
			return ErrShutdownTimeout
		case <-tick.C:
		}
	}
}

// Stop sends sig to pid and waits up to timeout for it to exit. With force
// a process that is still there gets SIGKILL.
func Stop(pid int, sig syscall.Signal, timeout time.Duration, force bool) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}
	if err := SendSignal(pid, sig); err != nil {
		return err
	}

	err := WaitForExit(pid, timeout)
	if err == nil || !force {
		return err
	}

	if err := SendSignal(pid, unix.SIGKILL); err != nil {
		return err
	}
	if err := WaitForExit(pid, 5*time.Second); err != nil {
		return fmt.Errorf("pid %d survived SIGKILL: %w", pid, err)
	}
	return nil
}
