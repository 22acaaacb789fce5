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
	"time"
)

// Looper cycles through a fixed list of frames, starting over after the last one.
type Looper struct {
	frames []PCM16Sample
	pos    int
	loops  int
}

func NewLooper(frames []PCM16Sample) *Looper {
	return &Looper{frames: frames}
}

// Next returns the next frame, or nil if there are no frames at all.
func (l *Looper) Next() PCM16Sample {
	if len(l.frames) == 0 {
		return nil
	}
	f := l.frames[l.pos]
	l.pos++
	if l.pos >= len(l.frames) {
		l.pos = 0
		l.loops++
	}
	return f
}

// Loops returns how many times the full list was played.
func (l *Looper) Loops() int {
	return l.loops
}

// PlayLoop writes frames to w, one per frame duration, in a loop until the context is cancelled.
func PlayLoop(ctx context.Context, w PCM16Writer, frames []PCM16Sample, frameDur time.Duration) error {
	l := NewLooper(frames)
	if frameDur <= 0 {
		frameDur = DefFrameDur
	}
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()
	silence := make(PCM16Sample, SamplesPerFrame(w.SampleRate()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		f := l.Next()
		if f == nil {
			f = silence
		}
		if err := w.WriteSample(f); err != nil {
			return err
		}
	}
}
