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

package dtmf

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/tones"
)

const (
	// DetectSampleRate is the sample rate the in-band detector expects.
	DetectSampleRate = 8000
	// detectWindow is 40 ms of audio, which gives 25 Hz per FFT bin.
	detectWindow = 320
	binHz        = float64(DetectSampleRate) / detectWindow

	// minTonePower is the bin power of a tone at roughly -40 dBFS.
	minTonePower = 0.5
	// toneBand is how many bins around the tone bin hold its energy after the Hann window.
	toneBand = 2
	// minToneShare is the part of the window energy both tones must hold together.
	minToneShare = 0.8
	// minDominance is how much stronger the tone must be than the others in its group.
	minDominance = 4.0
	// maxTwist limits the power ratio between row and column tones.
	maxTwist = 10.0
	// minPeakRatio is how much weaker any bin outside the two tones must be (13 dB).
	// Voiced speech is a comb of harmonics, a key press has nothing else above the noise floor.
	minPeakRatio = 20.0
	// confirmWindows is how many consecutive windows must hold the same digit before it's reported.
	confirmWindows = 2
	// releaseWindows is how many windows without a tone release the current digit.
	releaseWindows = 2
)

var (
	rowBins = freqBins(tones.DTMFRows)
	colBins = freqBins(tones.DTMFCols)
)

func freqBins(freq [4]tones.Hz) [4]int {
	var out [4]int
	for i, hz := range freq {
		out[i] = int(math.Round(float64(hz) / binHz))
	}
	return out
}

// Detector finds DTMF tones in 8 kHz audio. Each key press is reported once,
// the tone must stop before the same digit can be reported again.
type Detector struct {
	onDigit func(digit byte)
	win     []float64
	buf     []float64
	held    byte
	misses  int
	pending byte
	hits    int
}

var _ media.PCM16Writer = (*Detector)(nil)

func NewDetector(onDigit func(digit byte)) *Detector {
	return &Detector{
		onDigit: onDigit,
		win:     window.Hann(detectWindow),
		buf:     make([]float64, 0, detectWindow),
	}
}

func (d *Detector) String() string {
	return "DTMFDetector"
}

func (d *Detector) SampleRate() int {
	return DetectSampleRate
}

func (d *Detector) Close() error {
	return nil
}

func (d *Detector) WriteSample(sample media.PCM16Sample) error {
	for _, v := range sample {
		d.buf = append(d.buf, float64(v)/math.MaxInt16)
		if len(d.buf) == detectWindow {
			d.update(Detect(d.buf, d.win))
			d.buf = d.buf[:0]
		}
	}
	return nil
}

func (d *Detector) update(digit byte) {
	if digit == 0 {
		d.pending, d.hits = 0, 0
		if d.held != 0 {
			d.misses++
			if d.misses >= releaseWindows {
				d.held = 0
				d.misses = 0
			}
		}
		return
	}
	d.misses = 0
	if digit != d.pending {
		d.pending, d.hits = digit, 0
	}
	d.hits++
	if d.hits < confirmWindows || digit == d.held {
		return
	}
	d.held = digit
	if d.onDigit != nil {
		d.onDigit(digit)
	}
}

// Detect returns the DTMF digit present in a single window of normalized samples, or zero.
// The window must hold detectWindow samples, win is applied before the FFT.
func Detect(samples []float64, win []float64) byte {
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = v * win[i]
	}
	spec := fft.FFTReal(x)
	power := func(bin int) float64 {
		a := cmplx.Abs(spec[bin])
		return a * a
	}
	var total float64
	for k := 1; k < len(spec)/2; k++ {
		total += power(k)
	}
	if total == 0 {
		return 0
	}
	row, rowPow, ok := strongest(rowBins, power)
	if !ok {
		return 0
	}
	col, colPow, ok := strongest(colBins, power)
	if !ok {
		return 0
	}
	if rowPow < minTonePower || colPow < minTonePower {
		return 0
	}
	rb, cb := rowBins[row], colBins[col]
	band := func(center int) float64 {
		var sum float64
		for k := center - toneBand; k <= center+toneBand; k++ {
			sum += power(k)
		}
		return sum
	}
	rowBand, colBand := band(rb), band(cb)
	if (rowBand+colBand)/total < minToneShare {
		return 0
	}
	if rowBand > colBand*maxTwist || colBand > rowBand*maxTwist {
		return 0
	}
	peakLimit := min(rowPow, colPow) / minPeakRatio
	for k := 1; k < len(spec)/2; k++ {
		if abs(k-rb) <= toneBand || abs(k-cb) <= toneBand {
			continue
		}
		if power(k) > peakLimit {
			return 0
		}
	}
	return tones.DTMFKey(row, col)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// strongest finds the loudest bin of the group and checks it dominates the rest.
func strongest(bins [4]int, power func(bin int) float64) (int, float64, bool) {
	best, second := -1, 0.0
	var bestPow float64
	for i, b := range bins {
		p := power(b)
		if best < 0 || p > bestPow {
			second = max(second, bestPow)
			best, bestPow = i, p
		} else {
			second = max(second, p)
		}
	}
	if bestPow < second*minDominance {
		return 0, 0, false
	}
	return best, bestPow, true
}
