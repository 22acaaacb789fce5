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

package tones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/sip-pager/pkg/media"
)

func TestDTMF(t *testing.T) {
	row, col, ok := DTMF('5')
	require.True(t, ok)
	require.Equal(t, Hz(770), row)
	require.Equal(t, Hz(1336), col)

	row, col, ok = DTMF('D')
	require.True(t, ok)
	require.Equal(t, Hz(941), row)
	require.Equal(t, Hz(1633), col)

	_, _, ok = DTMF('x')
	require.False(t, ok)
	require.Nil(t, DTMFTone('x', 8000, time.Second, 1000))
	require.Equal(t, byte('#'), DTMFKey(3, 2))
}

func TestGenerate(t *testing.T) {
	buf := make(media.PCM16Sample, 160)
	Generate(buf, 8000, 0, 1000, 1000)
	// 1 kHz at 8 kHz repeats every 8 samples
	require.Equal(t, buf[:8], buf[8:16])
	require.InDelta(t, 1000, buf[2], 1)

	next := make(media.PCM16Sample, 160)
	Generate(next, 8000, 160, 1000, 1000)
	require.Equal(t, buf, next)

	Generate(buf, 8000, 0, 1000)
	require.Equal(t, make(media.PCM16Sample, 160), buf)

	tone := DTMFTone('1', 8000, 100*time.Millisecond, 8000)
	require.Len(t, tone, 800)
}
