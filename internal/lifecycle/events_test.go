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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestEventLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l := NewEventLogger(path)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.LogStart(100, "1.0.0", "env"))
	require.NoError(t, l.LogStalePID(99, "process not running"))
	require.NoError(t, l.LogSession("abc", 1, 1500*time.Millisecond, errors.New("prompt timed out")))
	require.NoError(t, l.LogReload(100, "env", nil))
	require.NoError(t, l.LogStop(100, 130))

	events := readEvents(t, path)
	require.Len(t, events, 5)

	assert.Equal(t, "start", events[0].Event)
	assert.Equal(t, "env", events[0].Origin)
	assert.True(t, events[0].Timestamp.Equal(fixed))

	assert.Equal(t, "stale_pid_detected", events[1].Event)
	assert.Equal(t, 99, events[1].PID)

	assert.Equal(t, "session", events[2].Event)
	assert.False(t, events[2].Success)
	assert.Equal(t, int64(1500), events[2].Duration)
	assert.Equal(t, "prompt timed out", events[2].Error)

	assert.Equal(t, "reload", events[3].Event)
	assert.True(t, events[3].Success)

	assert.Equal(t, 130, events[4].ExitCode)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEventLogger_Disabled(t *testing.T) {
	var nilLogger *EventLogger
	assert.NoError(t, nilLogger.LogStart(1, "v", "env"))
	assert.NoError(t, NewEventLogger("").LogStop(1, 0))
}
