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
	"math"

	"github.com/mjibson/go-dsp/window"
)

// lowPassTaps is the length of the anti-aliasing filter used when downsampling.
const lowPassTaps = 31

// Resample converts src audio from srcSampleRate to dstSampleRate and appends it to dst.
//
// Downsampling applies a windowed-sinc low-pass filter first, then both directions use linear interpolation.
func Resample(dst PCM16Sample, dstSampleRate int, src PCM16Sample, srcSampleRate int) PCM16Sample {
	if dstSampleRate == srcSampleRate || len(src) == 0 {
		return append(dst, src...)
	}
	in := src
	if dstSampleRate < srcSampleRate {
		// keep some margin below Nyquist of the destination rate
		cutoff := 0.9 * float64(dstSampleRate) / 2 / float64(srcSampleRate)
		in = lowPass(src, cutoff)
	}
	n := int(int64(len(src)) * int64(dstSampleRate) / int64(srcSampleRate))
	step := float64(srcSampleRate) / float64(dstSampleRate)
	for i := 0; i < n; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in) {
			break
		}
		frac := pos - float64(j)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		dst = append(dst, clampPCM16(a+(b-a)*frac))
	}
	return dst
}

// lowPass filters src with cutoff given as a fraction of the sample rate (0 < cutoff < 0.5).
func lowPass(src PCM16Sample, cutoff float64) PCM16Sample {
	win := window.Hann(lowPassTaps)
	h := make([]float64, lowPassTaps)
	var sum float64
	for i := range h {
		m := float64(i - lowPassTaps/2)
		if m == 0 {
			h[i] = 2 * cutoff
		} else {
			h[i] = math.Sin(2*math.Pi*cutoff*m) / (math.Pi * m)
		}
		h[i] *= win[i]
		sum += h[i]
	}
	if sum != 0 {
		for i := range h {
			h[i] /= sum
		}
	}
	out := make(PCM16Sample, len(src))
	last := len(src) - 1
	for i := range src {
		var v float64
		for k, c := range h {
			j := i + k - lowPassTaps/2
			if j < 0 {
				j = 0
			} else if j > last {
				j = last
			}
			v += c * float64(src[j])
		}
		out[i] = clampPCM16(v)
	}
	return out
}

func clampPCM16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	} else if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
