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

package siptest

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/livekit/sip-pager/pkg/media"
)

// DominantFreq returns the frequency with the highest magnitude in src, and that magnitude.
func DominantFreq(src media.PCM16Sample, sampleRate int) (float64, float64) {
	if len(src) == 0 {
		return 0, 0
	}
	in := make([]float64, len(src))
	for i, v := range src {
		in[i] = float64(v)
	}
	out := fft.FFTReal(in)
	best, bestAmp := 0, 0.0
	for i, v := range out[1 : len(out)/2] {
		if a := 2 * cmplx.Abs(v) / float64(len(src)); a > bestAmp {
			best, bestAmp = i+1, a
		}
	}
	return float64(best) * float64(sampleRate) / float64(len(src)), bestAmp
}
