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

// Package siptest provides a fake SIP phone for exercising the pager end to end.
package siptest

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/dtmf"
	"github.com/livekit/sip-pager/pkg/media/g711"
	"github.com/livekit/sip-pager/pkg/media/rtp"
	lksdp "github.com/livekit/sip-pager/pkg/media/sdp"
)

const maxRecorded = 8000 * 5

type CalleeConfig struct {
	Log logger.Logger
	// Status rejects every INVITE with this code when set.
	Status int
	// AuthUser enables a digest challenge for the first INVITE.
	AuthUser string
}

// Callee answers calls on a loopback UDP socket, plays silence back and records what it hears.
type Callee struct {
	conf   CalleeConfig
	log    logger.Logger
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	cli    *sipgo.Client
	sipPC  net.PacketConn
	rtp    *rtp.Conn
	stream *rtp.Stream

	invites  atomic.Int32
	acked    core.Fuse
	byed     core.Fuse
	closed   core.Fuse
	cancel   context.CancelFunc
	dtmfType atomic.Uint32

	mu       sync.Mutex
	invite   *sip.Request
	inviteOk *sip.Response
	recorded media.PCM16Sample
}

func NewCallee(conf CalleeConfig) (*Callee, error) {
	if conf.Log == nil {
		conf.Log = logger.GetLogger()
	}
	c := &Callee{conf: conf, log: conf.Log.WithValues("fake", "callee")}

	var err error
	c.rtp, err = rtp.Listen(0, 0, net.IPv4(127, 0, 0, 1), nil)
	if err != nil {
		return nil, err
	}
	c.stream = rtp.NewStream(c.rtp, 0, uint32(media.SamplesPerFrame(8000)))
	c.rtp.OnRTP(rtp.NewMux(rtp.HandlerFunc(c.record)))

	c.sipPC, err = net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		c.Close()
		return nil, err
	}
	c.ua, err = sipgo.NewUA(sipgo.WithUserAgent("callee"))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.srv, err = sipgo.NewServer(c.ua)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.cli, err = sipgo.NewClient(c.ua, sipgo.WithClientAddr(c.sipPC.LocalAddr().String()))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.srv.OnInvite(c.onInvite)
	c.srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		c.acked.Break()
	})
	c.srv.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
		c.byed.Break()
		c.stop()
	})
	c.srv.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	})
	go func() {
		_ = c.srv.ServeUDP(c.sipPC)
	}()
	return c, nil
}

// URI to dial this callee.
func (c *Callee) URI(user string) string {
	return fmt.Sprintf("sip:%s@%s", user, c.sipPC.LocalAddr().String())
}

func (c *Callee) Invites() int {
	return int(c.invites.Load())
}

// Answered is closed once the caller ACKs our 200.
func (c *Callee) Answered() <-chan struct{} {
	return c.acked.Watch()
}

// HungUp is closed once the caller sends BYE.
func (c *Callee) HungUp() <-chan struct{} {
	return c.byed.Watch()
}

// Recorded returns the decoded audio received so far.
func (c *Callee) Recorded() media.PCM16Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(media.PCM16Sample(nil), c.recorded...)
}

func (c *Callee) record(p *rtp.Packet) error {
	if p.PayloadType != 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded = g711.ULaw.DecodeFrame(c.recorded, p.Payload)
	if n := len(c.recorded); n > maxRecorded {
		c.recorded = append(c.recorded[:0], c.recorded[n-maxRecorded:]...)
	}
	return nil
}

func (c *Callee) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	c.invites.Add(1)
	if c.conf.AuthUser != "" {
		auth := req.GetHeader("Authorization")
		if auth == nil || !strings.Contains(auth.Value(), `username="`+c.conf.AuthUser+`"`) {
			res := sip.NewResponseFromRequest(req, 401, "Unauthorized", nil)
			res.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="siptest", nonce="`+sip.GenerateTagN(16)+`", algorithm=MD5`))
			_ = tx.Respond(res)
			return
		}
	}
	if c.conf.Status != 0 {
		_ = tx.Respond(sip.NewResponseFromRequest(req, c.conf.Status, "Rejected", nil))
		return
	}
	offer, err := lksdp.Parse(req.Body())
	if err != nil {
		c.log.Warnw("bad offer", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}
	c.rtp.SetDestAddr(net.UDPAddrFromAddrPort(offer.Addr))
	c.dtmfType.Store(uint32(offer.DTMFType))

	local := c.sipPC.LocalAddr().(*net.UDPAddr)
	res := sip.NewResponseFromRequest(req, 200, "OK", c.answer(offer.DTMFType))
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if to := res.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			if to.Params == nil {
				to.Params = sip.HeaderParams{}
			}
			to.Params["tag"] = sip.GenerateTagN(16)
		}
	}
	res.AppendHeader(&sip.ContactHeader{Address: sip.Uri{Scheme: "sip", User: "callee", Host: local.IP.String(), Port: local.Port}})

	c.mu.Lock()
	c.invite, c.inviteOk = req, res
	c.mu.Unlock()
	if err := tx.Respond(res); err != nil {
		c.log.Warnw("cannot answer", err)
		return
	}
	c.play()
}

func (c *Callee) answer(dtmfType byte) []byte {
	port := c.rtp.LocalAddr().Port
	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=callee 1 1 IN IP4 127.0.0.1\r\n")
	b.WriteString("s=siptest\r\n")
	b.WriteString("c=IN IP4 127.0.0.1\r\n")
	b.WriteString("t=0 0\r\n")
	if dtmfType != 0 {
		fmt.Fprintf(&b, "m=audio %d RTP/AVP 0 %d\r\n", port, dtmfType)
		b.WriteString("a=rtpmap:0 PCMU/8000\r\n")
		fmt.Fprintf(&b, "a=rtpmap:%d telephone-event/8000\r\n", dtmfType)
	} else {
		fmt.Fprintf(&b, "m=audio %d RTP/AVP 0\r\n", port)
		b.WriteString("a=rtpmap:0 PCMU/8000\r\n")
	}
	return []byte(b.String())
}

// play sends silence to the caller so its media timeout doesn't fire.
func (c *Callee) play() {
	c.rtp.Start()
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	var buf []byte
	w := media.WriterFunc("callee", 8000, func(sample media.PCM16Sample) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		buf = g711.ULaw.EncodeFrame(buf[:0], sample)
		return c.stream.WritePayload(buf)
	})
	go func() {
		_ = media.PlayLoop(ctx, w, nil, media.DefFrameDur)
	}()
}

func (c *Callee) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// SendDigit presses a key using RFC 4733 telephone events.
func (c *Callee) SendDigit(digit byte) error {
	typ := byte(c.dtmfType.Load())
	if typ == 0 {
		return fmt.Errorf("telephone events were not negotiated")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := uint32(time.Now().UnixNano() / int64(time.Millisecond) * 8)
	seq := uint16(ts)
	buf := make([]byte, 4)
	for i := 0; i < 6; i++ {
		ev := dtmf.Event{Digit: digit, Volume: 10, Dur: uint16(160 * (i + 1)), End: i >= 3}
		if _, err := dtmf.Encode(buf, ev); err != nil {
			return err
		}
		err := c.rtp.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    typ,
				SequenceNumber: seq + uint16(i),
				Timestamp:      ts,
				SSRC:           c.stream.SSRC(),
			},
			Payload: buf,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Hangup sends BYE for the answered call.
func (c *Callee) Hangup(ctx context.Context) error {
	c.mu.Lock()
	invite, ok := c.invite, c.inviteOk
	c.mu.Unlock()
	if invite == nil || ok == nil {
		return fmt.Errorf("no call to hang up")
	}
	c.stop()
	target := invite.From().Address
	if cont := invite.Contact(); cont != nil {
		target = cont.Address
	}
	bye := sip.NewRequest(sip.BYE, target)
	// The callee's From is the caller's To, with our tag.
	bye.AppendHeader(&sip.FromHeader{Address: ok.To().Address, Params: ok.To().Params})
	bye.AppendHeader(&sip.ToHeader{Address: invite.From().Address, Params: invite.From().Params})
	bye.AppendHeader(invite.CallID())
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	tx, err := c.cli.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-tx.Responses():
		if code := int(res.StatusCode); code != 200 {
			return fmt.Errorf("BYE rejected: %s", strconv.Itoa(code))
		}
		return nil
	}
}

func (c *Callee) Close() {
	c.closed.Once(func() {
		c.stop()
		if c.rtp != nil {
			_ = c.rtp.Close()
		}
		if c.cli != nil {
			c.cli.Close()
		}
		if c.srv != nil {
			c.srv.Close()
		}
		if c.sipPC != nil {
			_ = c.sipPC.Close()
		}
		if c.ua != nil {
			c.ua.Close()
		}
	})
}
