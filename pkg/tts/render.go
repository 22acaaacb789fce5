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

package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/errors"
)

// FilePlaceholder is replaced with the output path in TTS command arguments.
const FilePlaceholder = "{file}"

// ExecRenderer synthesizes speech by running an external TTS command with the text on stdin.
type ExecRenderer struct {
	log  logger.Logger
	conf config.TTSConfig
}

func NewExecRenderer(log logger.Logger, conf config.TTSConfig) *ExecRenderer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ExecRenderer{log: log, conf: conf}
}

// Text returns what is spoken for a message.
func (r *ExecRenderer) Text(message string) string {
	return message + r.conf.Prompt
}

func (r *ExecRenderer) Render(ctx context.Context, message string) (*Asset, error) {
	f, err := os.CreateTemp(r.conf.Dir, "sip-pager-*"+r.conf.Suffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRender, err)
	}
	path := f.Name()
	_ = f.Close()

	asset, err := r.render(ctx, path, r.Text(message))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", errors.ErrRender, err)
	}
	return asset, nil
}

func (r *ExecRenderer) render(ctx context.Context, path, text string) (*Asset, error) {
	args := make([]string, len(r.conf.Args))
	for i, a := range r.conf.Args {
		args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
	}
	cmd := exec.CommandContext(ctx, r.conf.Command, args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.log.Debugw("rendering message", "command", r.conf.Command, "path", path)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", r.conf.Command, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", r.conf.Command, err)
	}
	frames, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	asset := NewAsset(path, frames, true)
	r.log.Infow("message rendered",
		"path", path,
		"duration", asset.Duration(),
		"renderTime", time.Since(start),
	)
	return asset, nil
}

// FileRenderer plays a prerecorded file instead of synthesizing the message.
// The file belongs to the caller and is never removed.
type FileRenderer struct {
	Path string
}

func (r FileRenderer) Render(ctx context.Context, _ string) (*Asset, error) {
	frames, err := DecodeFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrRender, r.Path, err)
	}
	return NewAsset(r.Path, frames, false), nil
}
