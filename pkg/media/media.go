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

package media

import (
	"fmt"
	"time"
)

const (
	// DefFrameDur is a default duration of an audio frame.
	DefFrameDur = 20 * time.Millisecond
	// DefFramesPerSec is a default number of audio frames per second.
	DefFramesPerSec = int(time.Second / DefFrameDur)
)

type Writer[T any] interface {
	String() string
	SampleRate() int
	WriteSample(sample T) error
}

type WriteCloser[T any] interface {
	Writer[T]
	Close() error
}

type PCM16Writer = WriteCloser[PCM16Sample]

// WriterFunc adapts a function to a Writer with a fixed sample rate.
func WriterFunc[T any](name string, sampleRate int, fnc func(sample T) error) WriteCloser[T] {
	return &funcWriter[T]{name: name, sampleRate: sampleRate, fnc: fnc}
}

type funcWriter[T any] struct {
	name       string
	sampleRate int
	fnc        func(sample T) error
}

func (w *funcWriter[T]) String() string {
	return fmt.Sprintf("%s(%d)", w.name, w.sampleRate)
}

func (w *funcWriter[T]) SampleRate() int {
	return w.sampleRate
}

func (w *funcWriter[T]) WriteSample(sample T) error {
	return w.fnc(sample)
}

func (w *funcWriter[T]) Close() error {
	return nil
}
