// Copyright 2024 LiveKit, Inc.
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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallFailed(t *testing.T) {
	require.NoError(t, CallFailed(nil))

	err := CallFailed(fmt.Errorf("dial: %w", ErrConnect))
	require.ErrorIs(t, err, ErrCallFailed)
	require.ErrorIs(t, err, ErrConnect)
	require.Equal(t, err, CallFailed(err))
}

func TestKind(t *testing.T) {
	require.Equal(t, ErrInvalidRequest, Kind(InvalidRequest("empty %s", "message")))
	require.Equal(t, ErrRender, Kind(CallFailed(ErrRender)))
	require.Equal(t, ErrTransport, Kind(CallFailed(fmt.Errorf("rtp: %w", ErrTransport))))
	require.Equal(t, ErrCallFailed, Kind(CallFailed(errors.New("boom"))))
	require.Nil(t, Kind(errors.New("other")))
}
