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

package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringReader reads one entry from a keyring.
type KeyringReader interface {
	Get(ctx context.Context, service, user string) ([]byte, error)
}

// OSKeyring reads from the system keyring:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type OSKeyring struct{}

// Get implements KeyringReader.
func (OSKeyring) Get(ctx context.Context, service, user string) ([]byte, error) {
	if service == "" || user == "" {
		return nil, errors.New("keyring entry needs both service and user")
	}
	value, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("no keyring entry for %s/%s", service, user)
		}
		return nil, fmt.Errorf("keyring error: %w", err)
	}
	return []byte(value), nil
}
