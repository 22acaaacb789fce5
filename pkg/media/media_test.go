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

package media

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sine(rate, hz int, dur time.Duration, amp float64) PCM16Sample {
	n := int(time.Duration(rate) * dur / time.Second)
	out := make(PCM16Sample, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*float64(hz)*float64(i)/float64(rate)))
	}
	return out
}

func rms(s PCM16Sample) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

func zeroCrossings(s PCM16Sample) int {
	n := 0
	for i := 1; i < len(s); i++ {
		if (s[i-1] < 0) != (s[i] < 0) {
			n++
		}
	}
	return n
}

func TestResample(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		src := PCM16Sample{1, 2, 3}
		require.Equal(t, src, Resample(nil, 8000, src, 8000))
	})
	t.Run("down", func(t *testing.T) {
		src := sine(22050, 440, time.Second, 10000)
		out := Resample(nil, 8000, src, 22050)
		require.InDelta(t, 8000, len(out), 1)
		// 440 Hz crosses zero 880 times a second
		require.InDelta(t, 880, zeroCrossings(out), 10)
		require.InDelta(t, rms(src), rms(out), rms(src)*0.1)
	})
	t.Run("anti-alias", func(t *testing.T) {
		src := sine(22050, 6000, time.Second, 10000)
		out := Resample(nil, 8000, src, 22050)
		require.Less(t, rms(out), rms(src)*0.1)
	})
	t.Run("up", func(t *testing.T) {
		src := sine(8000, 440, time.Second, 10000)
		out := Resample(nil, 16000, src, 8000)
		require.Len(t, out, 16000)
		require.InDelta(t, 880, zeroCrossings(out), 10)
	})
}

func TestSplitFrames(t *testing.T) {
	src := make(PCM16Sample, 400)
	for i := range src {
		src[i] = 1
	}
	frames := SplitFrames(src, 8000)
	require.Len(t, frames, 3)
	for _, f := range frames {
		require.Len(t, f, 160)
	}
	// padded with silence
	require.EqualValues(t, 1, frames[2][79])
	require.EqualValues(t, 0, frames[2][80])
	require.Equal(t, 60*time.Millisecond, Duration(frames, 8000))

	require.Nil(t, SplitFrames(nil, 8000))
}

func TestLooper(t *testing.T) {
	frames := []PCM16Sample{{1}, {2}, {3}}
	l := NewLooper(frames)
	var got []int16
	for range 7 {
		got = append(got, l.Next()[0])
	}
	require.Equal(t, []int16{1, 2, 3, 1, 2, 3, 1}, got)
	require.Equal(t, 2, l.Loops())

	require.Nil(t, NewLooper(nil).Next())
}

func TestPlayLoop(t *testing.T) {
	frames := []PCM16Sample{{1}, {2}}
	var (
		mu  sync.Mutex
		got []int16
	)
	ctx, cancel := context.WithCancel(context.Background())
	w := WriterFunc("test", 8000, func(s PCM16Sample) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s[0])
		if len(got) == 5 {
			cancel()
		}
		return nil
	})
	err := PlayLoop(ctx, w, frames, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 5)
	require.Equal(t, []int16{1, 2, 1, 2, 1}, got[:5])
}

func TestPlayLoopSilence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := WriterFunc("test", 8000, func(s PCM16Sample) error {
		require.Len(t, s, 160)
		cancel()
		return nil
	})
	require.ErrorIs(t, PlayLoop(ctx, w, nil, time.Millisecond), context.Canceled)
}
