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

/*
Package lifecycle covers what feedpassd leaves behind on the host while it
runs: the pid file, the process checks made before signalling a pid read
from it, and the JSON-lines event log.

# Pid file

The pid file decides which process receives SIGUSR1, SIGHUP and SIGTERM
from "feedpassd signal", so it is created with O_EXCL, mode 0600 and an
flock held for the daemon's lifetime. A file left by a dead daemon is
replaced; a file naming a live feedpassd is not:

	pidFile := lifecycle.NewPIDFileManager(path)
	stale, err := pidFile.CreateReplacingStale(os.Getpid(), lifecycle.IsDaemonProcess)

On reload the file is removed before exec and the new image creates it
again under the same pid.

# Signalling

IsDaemonProcess checks that the pid is alive and runs an executable named
feedpassd. Stop sends a signal and polls until the process is gone,
escalating to SIGKILL when forced:

	if lifecycle.IsDaemonProcess(pid) {
		err = lifecycle.Stop(pid, syscall.SIGTERM, 10*time.Second, false)
	}

# Event log

EventLogger appends one JSON object per line for start, start failure,
session outcome, reload, stale pid and stop. A logger with an empty path
discards events.
*/
package lifecycle
