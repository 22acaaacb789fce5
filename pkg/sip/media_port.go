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

package sip

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/dtmf"
	"github.com/livekit/sip-pager/pkg/media/rtp"
	"github.com/livekit/sip-pager/pkg/media/sdp"
	"github.com/livekit/sip-pager/pkg/stats"
)

var (
	errMediaClosed  = errors.New("media port closed")
	errMediaStarted = errors.New("media port not ready")
)

// MediaEvents receives what the media layer observes on the inbound stream.
type MediaEvents interface {
	OnDigit(digit byte)
	onMediaTimeout()
}

type MediaOptions struct {
	// IP is advertised in the SDP offer.
	IP netip.Addr
	// ListenIP is the address the RTP socket binds to. Unspecified binds all interfaces.
	ListenIP     netip.Addr
	Ports        config.PortRange
	MediaTimeout time.Duration
	InbandDTMF   bool
	// Frames are looped into the call while it's active.
	Frames []media.PCM16Sample
}

type PortStatsSnapshot struct {
	Packets      uint64 `json:"packets"`
	AudioPackets uint64 `json:"audio_packets"`
	DTMFPackets  uint64 `json:"dtmf_packets"`
	OutPackets   uint64 `json:"out_packets"`
}

type PortStats struct {
	Packets      atomic.Uint64
	AudioPackets atomic.Uint64
	DTMFPackets  atomic.Uint64
	OutPackets   atomic.Uint64
}

func (s *PortStats) Load() PortStatsSnapshot {
	return PortStatsSnapshot{
		Packets:      s.Packets.Load(),
		AudioPackets: s.AudioPackets.Load(),
		DTMFPackets:  s.DTMFPackets.Load(),
		OutPackets:   s.OutPackets.Load(),
	}
}

// MediaPort plays the alert into a single RTP session and watches the inbound stream for DTMF.
type MediaPort struct {
	log  logger.Logger
	mon  *stats.Monitor
	opts MediaOptions
	conn *rtp.Conn

	stats  PortStats
	events atomic.Pointer[MediaEvents]
	offer  *sdp.Offer
	closed core.Fuse
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	conf    *sdp.MediaConfig
	cancel  context.CancelFunc
}

func NewMediaPort(log logger.Logger, mon *stats.Monitor, opts MediaOptions) (*MediaPort, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	p := &MediaPort{
		log:  log,
		mon:  mon,
		opts: opts,
	}
	var listenIP net.IP
	if opts.ListenIP.IsValid() && !opts.ListenIP.IsUnspecified() {
		listenIP = opts.ListenIP.AsSlice()
	}
	conn, err := rtp.Listen(opts.Ports.Start, opts.Ports.End, listenIP, &rtp.ConnConfig{
		Log:             log,
		MediaTimeout:    opts.MediaTimeout,
		TimeoutCallback: p.onTimeout,
	})
	if err != nil {
		return nil, err
	}
	p.conn = conn
	p.log = log.WithValues("rtpPort", p.Port())
	return p, nil
}

func (p *MediaPort) Port() int {
	return p.conn.LocalAddr().Port
}

func (p *MediaPort) Stats() PortStatsSnapshot {
	return p.stats.Load()
}

// Config returns the negotiated media config, or nil before Start.
func (p *MediaPort) Config() *sdp.MediaConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conf
}

// Offer builds the SDP offer advertising the local RTP port.
func (p *MediaPort) Offer() ([]byte, error) {
	p.offer = sdp.NewOffer(p.opts.IP, p.Port())
	data, err := p.offer.Marshal()
	if err != nil {
		return nil, err
	}
	p.mon.SDPSize(len(data), true)
	return data, nil
}

// Start applies the SDP answer, starts looping the alert and begins DTMF detection.
func (p *MediaPort) Start(answer []byte, h MediaEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errMediaClosed
	}
	if p.offer == nil || p.cancel != nil {
		return errMediaStarted
	}
	p.mon.SDPSize(len(answer), false)
	ans, err := sdp.ParseAnswer(answer)
	if err != nil {
		return err
	}
	conf, err := ans.Apply(p.offer)
	if err != nil {
		return err
	}
	if !conf.Remote.IsValid() {
		return sdp.ErrNoAudio
	}
	p.conf = conf
	p.events.Store(&h)
	p.conn.SetDestAddr(net.UDPAddrFromAddrPort(conf.Remote))
	p.log.Infow("media negotiated",
		"codec", conf.Audio.Codec.Info().SDPName,
		"payloadType", conf.Audio.Type,
		"dtmfType", conf.Audio.DTMFType,
		"remote", conf.Remote,
	)

	p.setupInput(conf.Audio)
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.conn.Start()
	p.conn.EnableTimeout(true)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.playLoop(ctx, conf.Audio)
	}()
	return nil
}

func (p *MediaPort) setupInput(audio sdp.AudioConfig) {
	mux := rtp.NewMux(nil)
	if p.opts.InbandDTMF {
		det := dtmf.NewDetector(func(digit byte) {
			p.log.Debugw("inband dtmf", "digit", string(digit))
			p.mon.DTMF(stats.DTMFInband)
			p.digit(digit)
		})
		codec := audio.Codec
		var buf media.PCM16Sample
		mux.Register(audio.Type, rtp.HandlerFunc(func(pkt *rtp.Packet) error {
			p.stats.AudioPackets.Add(1)
			buf = codec.DecodeFrame(buf[:0], pkt.Payload)
			return det.WriteSample(buf)
		}))
	}
	if audio.DTMFType != 0 {
		mux.Register(audio.DTMFType, dtmf.NewHandler(func(ev dtmf.Event) {
			p.stats.DTMFPackets.Add(1)
			p.log.Debugw("rfc4733 dtmf", "digit", string(ev.Digit))
			p.mon.DTMF(stats.DTMFTelephoneEvent)
			p.digit(ev.Digit)
		}))
	}
	p.conn.OnRTP(rtp.HandlerFunc(func(pkt *rtp.Packet) error {
		p.stats.Packets.Add(1)
		p.mon.RTPPacketRecv(strconv.Itoa(int(pkt.PayloadType)))
		return mux.HandleRTP(pkt)
	}))
}

func (p *MediaPort) playLoop(ctx context.Context, audio sdp.AudioConfig) {
	codec := audio.Codec
	name := codec.Info().SDPName
	stream := rtp.NewStream(p.conn, audio.Type, uint32(media.SamplesPerFrame(codec.Info().SampleRate)))
	var buf []byte
	w := media.WriterFunc("rtp", codec.Info().SampleRate, func(sample media.PCM16Sample) error {
		buf = codec.EncodeFrame(buf[:0], sample)
		if err := stream.WritePayload(buf); err != nil {
			return err
		}
		p.stats.OutPackets.Add(1)
		p.mon.RTPPacketSend(name)
		return nil
	})
	err := media.PlayLoop(ctx, w, p.opts.Frames, media.DefFrameDur)
	if err != nil && ctx.Err() == nil {
		p.log.Warnw("playback stopped", err)
	}
}

func (p *MediaPort) digit(digit byte) {
	if h := p.events.Load(); h != nil {
		(*h).OnDigit(digit)
	}
}

func (p *MediaPort) onTimeout() {
	if h := p.events.Load(); h != nil {
		p.log.Infow("media timeout", "packets", p.conn.Packets())
		(*h).onMediaTimeout()
	}
}

// Close stops playback and releases the RTP port. It's safe to call more than once.
func (p *MediaPort) Close() error {
	p.closed.Once(func() {
		p.mu.Lock()
		p.stopped = true
		p.events.Store(nil)
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		_ = p.conn.Close()
		p.wg.Wait()
		p.log.Debugw("media closed", "stats", p.stats.Load())
	})
	return nil
}
