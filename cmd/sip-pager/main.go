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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/alert"
	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/sip"
	"github.com/livekit/sip-pager/pkg/stats"
	"github.com/livekit/sip-pager/pkg/tts"
	"github.com/livekit/sip-pager/version"
)

const usage = "sip-pager <dst-URI> <message>\n" +
	"\tdst-URI is of the form sip:user@domain"

func main() {
	cmd := &cli.Command{
		Name:        "sip-pager",
		Usage:       "Page someone over SIP",
		UsageText:   usage,
		Version:     version.Version,
		Description: "Calls a SIP URI, plays a spoken message in a loop and waits for a key press to acknowledge it.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("SIP_PAGER_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("SIP_PAGER_CONFIG_BODY"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long to wait for an acknowledgement",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "SIP transport, udp or tcp",
			},
			&cli.StringFlag{
				Name:  "audio-file",
				Usage: "play this WAV or OGG file instead of synthesizing the message",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: runAlert,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := exit.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAlert(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return cli.Exit(usage, 1)
	}
	req, err := alert.NewRequest(c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\n%s", err, usage), 1)
	}

	conf, err := getConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log := logger.GetLogger()
	slog.SetDefault(slog.New(logger.ToSlogHandler(log)))

	mon := stats.NewMonitor(conf)
	if err := mon.Start(); err != nil {
		return cli.Exit(err, 1)
	}
	defer mon.Stop()

	var renderer tts.Renderer = tts.NewExecRenderer(log, conf.TTS)
	if path := c.String("audio-file"); path != "" {
		renderer = tts.FileRenderer{Path: path}
	}
	client := sip.NewClient(conf, log, mon)
	defer client.Stop()

	ctrl := alert.NewController(log, mon, renderer, &alert.SIPDialer{Client: client}, conf.AckTimeout)
	res, runErr := ctrl.Run(ctx, req)

	pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mon.Push(pushCtx); err != nil {
		log.Warnw("cannot push metrics", err)
	}

	fmt.Println(res.String())
	if runErr != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func getConfig(c *cli.Command) (*config.Config, error) {
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile := c.String("config"); configFile != "" {
			content, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			configBody = string(content)
		}
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}
	if t := c.String("transport"); t != "" {
		tr, err := sip.ParseTransport(t)
		if err != nil {
			return nil, err
		}
		conf.Transport = string(tr)
	}
	if d := c.Duration("timeout"); d > 0 {
		conf.AckTimeout = d
	}
	if lvl := c.String("log-level"); lvl != "" {
		conf.Logging.Level = lvl
	}
	if err = conf.Init(); err != nil {
		return nil, err
	}
	return conf, nil
}
