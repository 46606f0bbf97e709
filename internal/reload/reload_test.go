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

package reload

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tombee/feedpass/internal/secret"
)

var errExecBlocked = errors.New("exec blocked in test")

type execCall struct {
	path string
	argv []string
	env  []string
}

// fakeReloader records the exec call instead of replacing the test binary.
// The handoff read end is duplicated so the test can read what the new
// image would see on stdin.
func fakeReloader(t *testing.T) (*Reloader, *execCall, *int) {
	t.Helper()
	call := &execCall{}
	stdin := -1
	r := &Reloader{
		Executable: func() (string, error) { return "/usr/local/bin/feedpassd", nil },
		Environ:    func() []string { return []string{"HOME=/home/op", "PW=stale"} },
		Dup: func(oldfd, newfd int) error {
			require.Equal(t, 0, newfd)
			fd, err := unix.Dup(oldfd)
			require.NoError(t, err)
			stdin = fd
			return nil
		},
		Exec: func(argv0 string, argv, envv []string) error {
			call.path, call.argv, call.env = argv0, argv, envv
			return errExecBlocked
		},
	}
	t.Cleanup(func() {
		if stdin >= 0 {
			unix.Close(stdin)
		}
	})
	return r, call, &stdin
}

func TestReload_EnvSecretIsReplayedThroughEnvironment(t *testing.T) {
	r, call, stdin := fakeReloader(t)
	var beforeExec bool
	err := r.Reload(context.Background(), Request{
		Settings:   []string{"--reply-to-prompt", "Password:", "--timeout", "30"},
		Command:    []string{"ssh-add", "key"},
		Secret:     secret.NewFromEnv([]byte("hunter2"), "PW"),
		BeforeExec: func() { beforeExec = true },
	})

	var rerr *ReloadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindExec, rerr.Kind)
	assert.True(t, errors.Is(err, errExecBlocked))

	assert.True(t, beforeExec)
	assert.Equal(t, -1, *stdin, "env reload must not touch stdin")
	assert.Equal(t, "/usr/local/bin/feedpassd", call.path)
	assert.Equal(t, []string{
		"/usr/local/bin/feedpassd",
		"--reply-to-prompt", "Password:", "--timeout", "30",
		"--password-from-env", "PW",
		"--", "ssh-add", "key",
	}, call.argv)
	assert.Equal(t, []string{"HOME=/home/op", "PW=hunter2"}, call.env)
	for _, arg := range call.argv {
		assert.NotContains(t, arg, "hunter2")
	}
}

func TestReload_OtherOriginsUseHandoff(t *testing.T) {
	for _, origin := range []secret.Origin{secret.OriginPrompt, secret.OriginFile, secret.OriginStdin, secret.OriginKeyring} {
		t.Run(string(origin), func(t *testing.T) {
			r, call, stdin := fakeReloader(t)

			err := r.Reload(context.Background(), Request{Command: []string{"unlock"}, Secret: secret.New([]byte("hunter2"), origin)})
			require.ErrorIs(t, err, errExecBlocked)

			assert.Equal(t, []string{"/usr/local/bin/feedpassd", "--password-from-stdin", "--", "unlock"}, call.argv)
			assert.Equal(t, []string{"HOME=/home/op", "PW=stale"}, call.env)
			for _, kv := range call.env {
				assert.NotContains(t, kv, "hunter2")
			}

			require.GreaterOrEqual(t, *stdin, 0)
			f := os.NewFile(uintptr(*stdin), "handoff")
			*stdin = -1
			defer f.Close()
			got, err := secret.ReadLine(f)
			require.NoError(t, err)
			assert.Equal(t, "hunter2", string(got))
		})
	}
}

func TestReload_OversizedHandoffStillExecs(t *testing.T) {
	r, call, _ := fakeReloader(t)

	h, err := NewHandoff()
	require.NoError(t, err)
	big := strings.Repeat("x", h.Capacity()+1)
	h.Close()

	done := make(chan error, 1)
	go func() {
		done <- r.Reload(context.Background(), Request{Command: []string{"unlock"}, Secret: secret.New([]byte(big), secret.OriginPrompt)})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errExecBlocked)
	case <-time.After(5 * time.Second):
		t.Fatal("reload blocked on a full handoff pipe")
	}
	assert.Contains(t, call.argv, "--password-from-stdin")
}

func TestReload_ExecutableError(t *testing.T) {
	r, call, _ := fakeReloader(t)
	r.Executable = func() (string, error) { return "", errors.New("gone") }

	err := r.Reload(context.Background(), Request{Command: []string{"unlock"}, Secret: secret.NewFromEnv([]byte("x"), "PW")})
	var rerr *ReloadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindExec, rerr.Kind)
	assert.Empty(t, call.path)
}

func TestReload_DupError(t *testing.T) {
	r, call, _ := fakeReloader(t)
	r.Dup = func(int, int) error { return unix.EBADF }

	err := r.Reload(context.Background(), Request{Command: []string{"unlock"}, Secret: secret.New([]byte("x"), secret.OriginFile)})
	require.ErrorIs(t, err, unix.EBADF)
	assert.Empty(t, call.path, "exec must not run without the handoff on stdin")
}

func TestHandoff_SendAndReadLine(t *testing.T) {
	h, err := NewHandoff()
	require.NoError(t, err)
	defer h.Close()

	assert.GreaterOrEqual(t, h.Capacity(), pipeBuf)
	require.NoError(t, h.Send(secret.New([]byte("hunter2"), secret.OriginPrompt)))

	got, err := h.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(got))

	// The writer is closed after Send, so the reader sees end of stream.
	_, err = h.ReadLine()
	assert.ErrorIs(t, err, secret.ErrEmptyInput)
}

func TestHandoff_RefusesOversizedSecret(t *testing.T) {
	h, err := NewHandoff()
	require.NoError(t, err)
	defer h.Close()

	big := make([]byte, h.Capacity())
	err = h.Send(secret.New(big, secret.OriginPrompt))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds handoff capacity")
}

func TestSetEnv(t *testing.T) {
	env := setEnv([]string{"A=1", "PW=old", "PWX=keep", "PW=dup"}, "PW", "new")
	assert.Equal(t, []string{"A=1", "PWX=keep", "PW=new"}, env)
}

func TestReloadError(t *testing.T) {
	err := &ReloadError{Kind: KindHandoffWrite, Cause: errors.New("pipe full")}
	assert.Equal(t, "reload handoff_write failed: pipe full", err.Error())
	assert.Equal(t, "reload", err.ErrorType())
	assert.False(t, err.IsRetryable())
}
