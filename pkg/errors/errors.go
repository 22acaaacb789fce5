// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for malformed alert arguments. No resources are acquired.
	ErrInvalidRequest = errors.New("invalid alert request")
	// ErrRender is returned when the audio message cannot be synthesized or decoded.
	ErrRender = errors.New("audio render failed")
	// ErrTransport is returned when no usable SIP or RTP transport can be created.
	ErrTransport = errors.New("cannot create transport")
	// ErrConnect is returned when the remote endpoint cannot be reached.
	ErrConnect = errors.New("cannot reach remote endpoint")
	// ErrCallFailed is the umbrella kind for every failed alert attempt.
	ErrCallFailed = errors.New("call failed")
)

func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("could not parse config: %w", err)
}

// InvalidRequest wraps a validation failure with ErrInvalidRequest.
func InvalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// CallFailed marks err as a failed alert attempt, keeping the original kind visible to errors.Is.
func CallFailed(err error) error {
	if err == nil || errors.Is(err, ErrCallFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCallFailed, err)
}

// Kind returns the most specific error kind of err, or nil if it's not one of the known kinds.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidRequest,
		ErrRender,
		ErrTransport,
		ErrConnect,
		ErrCallFailed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
