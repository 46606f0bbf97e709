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

package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/feedpass/internal/metrics"
	"github.com/tombee/feedpass/internal/secret"
	pkgerrors "github.com/tombee/feedpass/pkg/errors"
)

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns processes on a pty")
	}
}

func shell(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func testConfig(t *testing.T, script string, timeout time.Duration) Config {
	t.Helper()
	prompt, err := CompilePrompt(DefaultPrompt, false)
	require.NoError(t, err)
	return Config{Command: shell(script), Prompt: prompt, Timeout: timeout}
}

func requireKind(t *testing.T, err error, kind Kind) *SessionError {
	t.Helper()
	var serr *SessionError
	require.True(t, errors.As(err, &serr), "expected SessionError, got %v", err)
	assert.Equal(t, kind, serr.Kind)
	return serr
}

func TestCompilePrompt(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		literal bool
		input   string
		match   bool
		wantErr bool
	}{
		{name: "default", pattern: DefaultPrompt, input: "Password: ", match: true},
		{name: "regexp", pattern: `pass(word|phrase)\s*:`, input: "Enter passphrase : ", match: true},
		{name: "literal metacharacters", pattern: "Password?", literal: true, input: "Password?", match: true},
		{name: "literal does not act as regexp", pattern: "Pa.sword", literal: true, input: "Password", match: false},
		{name: "empty", pattern: "", wantErr: true},
		{name: "invalid regexp", pattern: "(", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := CompilePrompt(tt.pattern, tt.literal)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.match, re.MatchString(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	prompt, _ := CompilePrompt(DefaultPrompt, false)
	assert.Error(t, Config{Prompt: prompt}.Validate())
	assert.Error(t, Config{Command: []string{"true"}}.Validate())
	assert.Error(t, Config{Command: []string{"true"}, Prompt: prompt, Timeout: -time.Second}.Validate())
	assert.Error(t, Config{Command: []string{"true"}, Prompt: prompt, SendDelay: -time.Millisecond}.Validate())
	assert.NoError(t, Config{Command: []string{"true"}, Prompt: prompt}.Validate())
}

func TestRun_FeedsSecretOnce(t *testing.T) {
	skipShort(t)
	out := filepath.Join(t.TempDir(), "out")
	cfg := testConfig(t, `echo 'Password: ' && read -r reply && echo "$reply" > `+out, 5*time.Second)

	var states []State
	r := &Runner{
		Metrics:      metrics.New(""),
		OnTransition: func(_ string, _, to State) { states = append(states, to) },
	}

	res, err := r.Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	require.NoError(t, err)
	assert.True(t, res.Exit.Success())
	assert.NotEmpty(t, res.ID)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "secret\n", string(data))
	assert.Equal(t, []State{AwaitingPrompt, Sent, AwaitingExit, Completed}, states)
}

func TestRun_SequentialSessionsAreIndependent(t *testing.T) {
	skipShort(t)
	dir := t.TempDir()
	s := secret.New([]byte("secret"), secret.OriginStdin)
	r := &Runner{}

	var outputs []string
	var ids []string
	for i := 0; i < 2; i++ {
		out := filepath.Join(dir, "out")
		os.Remove(out)
		cfg := testConfig(t, `echo 'Password: ' && read -r reply && echo "$reply" > `+out, 5*time.Second)

		res, err := r.Run(context.Background(), cfg, s)
		require.NoError(t, err)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		outputs = append(outputs, string(data))
		ids = append(ids, res.ID)
	}

	assert.Equal(t, outputs[0], outputs[1])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestRun_RedactsSecretInOutput(t *testing.T) {
	skipShort(t)
	var buf bytes.Buffer
	cfg := testConfig(t, `echo 'Password: ' && read -r reply && echo "got $reply"`, 5*time.Second)
	cfg.Output = &buf

	_, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("s3cr3t-value"), secret.OriginFile))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Password:")
	assert.Contains(t, buf.String(), "got ***")
	assert.NotContains(t, buf.String(), "s3cr3t-value")
}

func TestRun_PromptTimeoutNeverSendsSecret(t *testing.T) {
	skipShort(t)
	out := filepath.Join(t.TempDir(), "out")
	cfg := testConfig(t, `echo 'Login: ' && read -r reply && echo "$reply" > `+out, 300*time.Millisecond)

	_, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	serr := requireKind(t, err, KindPromptTimeout)
	assert.Equal(t, AwaitingPrompt, serr.Phase)
	assert.Equal(t, 300*time.Millisecond, serr.Timeout)

	var terr *pkgerrors.TimeoutError
	assert.True(t, errors.As(err, &terr))
	assert.True(t, serr.IsRetryable())

	// The child was killed without input; give it a moment to prove it.
	time.Sleep(200 * time.Millisecond)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "child received input")
}

func TestRun_PromptNotFound(t *testing.T) {
	skipShort(t)
	cfg := testConfig(t, `echo 'nothing to see here'`, 5*time.Second)

	_, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	serr := requireKind(t, err, KindPromptNotFound)
	assert.Equal(t, AwaitingPrompt, serr.Phase)
}

func TestRun_ExitWaitTimeout(t *testing.T) {
	skipShort(t)
	cfg := testConfig(t, `echo 'Password: ' && read -r reply && sleep 10`, 300*time.Millisecond)

	_, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	serr := requireKind(t, err, KindExitWaitTimeout)
	assert.Equal(t, AwaitingExit, serr.Phase)
}

func TestRun_NonZeroExitIsNotAFailure(t *testing.T) {
	skipShort(t)
	cfg := testConfig(t, `echo 'Password: ' && read -r reply && exit 3`, 5*time.Second)

	res, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Exit.Code)
	assert.False(t, res.Exit.Success())
	assert.Equal(t, "exit status 3", res.Exit.String())
}

func TestRun_Cancelled(t *testing.T) {
	skipShort(t)
	cfg := testConfig(t, `sleep 10`, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err := (&Runner{}).Run(ctx, cfg, secret.New([]byte("secret"), secret.OriginStdin))
	requireKind(t, err, KindCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_SpawnError(t *testing.T) {
	prompt, _ := CompilePrompt(DefaultPrompt, false)
	cfg := Config{Command: []string{"feedpass-no-such-command"}, Prompt: prompt}

	starterErr := errors.New("no pty")
	r := &Runner{Start: func(*exec.Cmd) (*os.File, error) { return nil, starterErr }}

	_, err := r.Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	serr := requireKind(t, err, KindSpawn)
	assert.Equal(t, Spawning, serr.Phase)
	assert.True(t, errors.Is(err, starterErr))
	assert.False(t, serr.IsRetryable())
	assert.NotContains(t, err.Error(), "secret")
}

func TestRun_MissingCommand(t *testing.T) {
	skipShort(t)
	prompt, _ := CompilePrompt(DefaultPrompt, false)
	cfg := Config{Command: []string{"/nonexistent/feedpass-test"}, Prompt: prompt}

	_, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	requireKind(t, err, KindSpawn)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_prompt", AwaitingPrompt.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Sent.Terminal())
}
