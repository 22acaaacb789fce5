// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/errors"
)

const (
	DefaultAckTimeout   = 20 * time.Second
	DefaultMediaTimeout = 30 * time.Second
	DefaultTransport    = "tcp"
	DefaultTTSCommand   = "espeak"
	DefaultAckPrompt    = ". Press any key to acknowledge this alarm."
)

type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

func (r PortRange) Valid() bool {
	if r.Start == 0 && r.End == 0 {
		return true
	}
	return r.Start > 0 && r.End >= r.Start && r.End <= 0xFFFF
}

type TTSConfig struct {
	Command string   `yaml:"command"` // binary to run, text is written to stdin
	Args    []string `yaml:"args"`    // "{file}" is replaced with the output path
	Suffix  string   `yaml:"suffix"`  // temp file suffix, decides the decoder
	Prompt  string   `yaml:"prompt"`  // appended to every message
	Dir     string   `yaml:"dir"`     // temp directory, defaults to os.TempDir
}

type PrometheusConfig struct {
	PushURL string `yaml:"push_url"`
	Job     string `yaml:"job"`
}

type Config struct {
	Logging logger.Config `yaml:"logging"`

	Transport     string    `yaml:"transport"` // udp or tcp
	SIPPort       int       `yaml:"sip_port"`  // 0 picks a free port
	RTPPort       PortRange `yaml:"rtp_port"`
	LocalNet      string    `yaml:"local_net"` // local IP net to use, e.g. 192.168.0.0/24
	NAT1To1IP     string    `yaml:"nat_1_to_1_ip"`
	UseExternalIP bool      `yaml:"use_external_ip"`

	FromUser string `yaml:"from_user"`
	Username string `yaml:"username"` // env SIP_PAGER_USERNAME
	Password string `yaml:"password"` // env SIP_PAGER_PASSWORD

	AckTimeout   time.Duration `yaml:"ack_timeout"`
	MediaTimeout time.Duration `yaml:"media_timeout"`
	InbandDTMF   *bool         `yaml:"inband_dtmf"`

	TTS        TTSConfig        `yaml:"tts"`
	Prometheus PrometheusConfig `yaml:"prometheus"`

	// internal
	ServiceName string `yaml:"-"`
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		Username:    os.Getenv("SIP_PAGER_USERNAME"),
		Password:    os.Getenv("SIP_PAGER_PASSWORD"),
		ServiceName: "sip-pager",
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}
	conf.applyDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.FromUser == "" {
		c.FromUser = "pager"
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MediaTimeout <= 0 {
		c.MediaTimeout = max(DefaultMediaTimeout, c.AckTimeout)
	}
	if c.InbandDTMF == nil {
		enabled := true
		c.InbandDTMF = &enabled
	}
	if c.TTS.Command == "" {
		c.TTS.Command = DefaultTTSCommand
		if len(c.TTS.Args) == 0 {
			c.TTS.Args = []string{"-w", "{file}"}
		}
	}
	if c.TTS.Suffix == "" {
		c.TTS.Suffix = ".wav"
	}
	if c.TTS.Prompt == "" {
		c.TTS.Prompt = DefaultAckPrompt
	}
	if c.Prometheus.Job == "" {
		c.Prometheus.Job = c.ServiceName
	}
}

func (c *Config) validate() error {
	switch c.Transport {
	case "udp", "tcp":
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.SIPPort < 0 || c.SIPPort > 0xFFFF {
		return fmt.Errorf("invalid sip port %d", c.SIPPort)
	}
	if !c.RTPPort.Valid() {
		return fmt.Errorf("invalid rtp port range %d-%d", c.RTPPort.Start, c.RTPPort.End)
	}
	if c.NAT1To1IP != "" {
		if _, err := netip.ParseAddr(c.NAT1To1IP); err != nil {
			return fmt.Errorf("invalid nat_1_to_1_ip: %w", err)
		}
	}
	if c.LocalNet != "" {
		if _, err := netip.ParsePrefix(c.LocalNet); err != nil {
			return fmt.Errorf("invalid local_net: %w", err)
		}
	}
	return nil
}

// InbandDTMFEnabled reports whether audio should be scanned for DTMF tones.
func (c *Config) InbandDTMFEnabled() bool {
	return c.InbandDTMF == nil || *c.InbandDTMF
}

func (c *Config) Init() error {
	return c.InitLogger()
}

func (c *Config) InitLogger(values ...interface{}) error {
	logger.InitFromConfig(&c.Logging, c.ServiceName)
	if len(values) != 0 {
		logger.SetLogger(logger.GetLogger().WithValues(values...), c.ServiceName)
	}
	return nil
}
