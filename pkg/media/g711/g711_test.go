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

package g711

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/sip-pager/pkg/media"
)

func TestG711Silence(t *testing.T) {
	require.Equal(t, byte(0xFF), linearToULaw(0))
	require.Equal(t, byte(0xD5), linearToALaw(0))
	require.EqualValues(t, 0, ulawToLinear(0xFF))
	require.EqualValues(t, 8, alawToLinear(0xD5))
}

func TestG711RoundTrip(t *testing.T) {
	for _, c := range []media.AudioCodec{ULaw, ALaw} {
		t.Run(c.Info().SDPName, func(t *testing.T) {
			var src media.PCM16Sample
			for v := math.MinInt16; v <= math.MaxInt16; v += 37 {
				src = append(src, int16(v))
			}
			enc := c.EncodeFrame(nil, src)
			require.Len(t, enc, len(src))
			dec := c.DecodeFrame(nil, enc)
			require.Len(t, dec, len(src))
			for i, v := range src {
				diff := math.Abs(float64(dec[i]) - float64(v))
				limit := max(32, math.Abs(float64(v))/8)
				require.LessOrEqual(t, diff, limit, "sample %d: %d -> %d", i, v, dec[i])
			}
		})
	}
}

func TestG711Monotonic(t *testing.T) {
	for _, c := range []media.AudioCodec{ULaw, ALaw} {
		t.Run(c.Info().SDPName, func(t *testing.T) {
			prev := c.DecodeFrame(nil, c.EncodeFrame(nil, media.PCM16Sample{math.MinInt16}))[0]
			for v := math.MinInt16 + 1; v <= math.MaxInt16; v++ {
				cur := c.DecodeFrame(nil, c.EncodeFrame(nil, media.PCM16Sample{int16(v)}))[0]
				require.GreaterOrEqual(t, cur, prev, "value %d", v)
				prev = cur
			}
		})
	}
}

func TestG711Registered(t *testing.T) {
	require.Equal(t, ULaw, media.CodecByName("pcmu/8000"))
	require.Equal(t, ALaw, media.CodecByName(ALawSDPName))
	list := media.Codecs()
	require.GreaterOrEqual(t, len(list), 2)
	// PCMU is preferred over PCMA
	iu, ia := -1, -1
	for i, c := range list {
		switch c {
		case ULaw:
			iu = i
		case ALaw:
			ia = i
		}
	}
	require.Less(t, iu, ia)
}
