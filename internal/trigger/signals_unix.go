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

//go:build !windows

package trigger

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalKinds maps every handled signal to its trigger.
var signalKinds = map[os.Signal]Kind{
	syscall.SIGUSR1: Spawn,
	syscall.SIGINT:  Shutdown,
	syscall.SIGTERM: Shutdown,
	syscall.SIGHUP:  Reload,
}

// SignalFor returns the signal that requests kind.
func SignalFor(kind Kind) syscall.Signal {
	switch kind {
	case Spawn:
		return syscall.SIGUSR1
	case Reload:
		return syscall.SIGHUP
	default:
		return syscall.SIGTERM
	}
}

// KindOf returns the trigger for a signal, or false for unhandled signals.
func KindOf(sig os.Signal) (Kind, bool) {
	k, ok := signalKinds[sig]
	return k, ok
}

// Notify starts translating signals into triggers until ctx is done. The
// handlers are installed before Notify returns, so a signal sent right
// after it is never lost to the default action.
func Notify(ctx context.Context) <-chan Trigger {
	// Buffered so a signal is not lost if the loop is briefly busy.
	sigs := make(chan os.Signal, 8)
	handled := make([]os.Signal, 0, len(signalKinds))
	for sig := range signalKinds {
		handled = append(handled, sig)
	}
	signal.Notify(sigs, handled...)

	out := make(chan Trigger, 8)
	go func() {
		defer close(out)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				kind, ok := KindOf(sig)
				if !ok {
					continue
				}
				select {
				case out <- Trigger{Kind: kind, Source: SourceSignal, Signal: sig}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// IgnoreAcrossExec sets the spawn and reload signals to be ignored. An
// ignored disposition survives exec, so a trigger that arrives while the new
// image is still acquiring its secret is dropped instead of killing it.
// Notify in the new image installs the handlers again.
func IgnoreAcrossExec() {
	signal.Ignore(SignalFor(Spawn), SignalFor(Reload))
}
