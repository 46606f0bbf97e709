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

//go:build linux

package session

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tombee/feedpass/internal/secret"
)

const flushHelperEnv = "FEEDPASS_FLUSH_HELPER_OUT"

// TestHelperFlushingPrompt is run as the child. Like many password readers
// it prints the prompt first and only then disables echo with a flushing
// tcsetattr, dropping any input that already arrived.
func TestHelperFlushingPrompt(t *testing.T) {
	out := os.Getenv(flushHelperEnv)
	if out == "" {
		return
	}
	fmt.Print("Password: ")
	time.Sleep(10 * time.Millisecond)

	tio, err := unix.IoctlGetTermios(0, unix.TCGETS)
	if err != nil {
		os.Exit(2)
	}
	tio.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(0, unix.TCSETSF, tio); err != nil {
		os.Exit(2)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		os.Exit(3)
	}
	if err := os.WriteFile(out, []byte(line), 0600); err != nil {
		os.Exit(4)
	}
	os.Exit(0)
}

func TestRun_SendDelaySurvivesEchoFlush(t *testing.T) {
	skipShort(t)
	out := filepath.Join(t.TempDir(), "out")
	prompt, err := CompilePrompt(DefaultPrompt, false)
	require.NoError(t, err)

	cfg := Config{
		Command:   []string{os.Args[0], "-test.run=^TestHelperFlushingPrompt$"},
		Env:       append(os.Environ(), flushHelperEnv+"="+out),
		Prompt:    prompt,
		Timeout:   5 * time.Second,
		SendDelay: DefaultSendDelay,
	}

	res, err := (&Runner{}).Run(context.Background(), cfg, secret.New([]byte("secret"), secret.OriginStdin))
	require.NoError(t, err)
	assert.True(t, res.Exit.Success(), "child ended with %s", res.Exit)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "secret\n", string(data))
}
