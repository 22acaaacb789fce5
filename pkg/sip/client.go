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
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/errors"
	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/stats"
)

// DialRequest describes a single outbound call.
type DialRequest struct {
	To string
	// Frames are looped into the call once it's answered.
	Frames []media.PCM16Sample
}

// Client places outbound calls and answers in-dialog requests sent back by the remote side.
type Client struct {
	conf      *config.Config
	log       logger.Logger
	mon       *stats.Monitor
	transport Transport

	ua       *sipgo.UserAgent
	sipCli   *sipgo.Client
	sipSrv   *sipgo.Server
	listener io.Closer
	port     int

	signalingIp      netip.Addr
	signalingIpLocal netip.Addr

	closing  core.Fuse
	cmu      sync.Mutex
	sessions map[string]*Session
}

func NewClient(conf *config.Config, log logger.Logger, mon *stats.Monitor) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		conf:     conf,
		log:      log,
		mon:      mon,
		sessions: make(map[string]*Session),
	}
}

// Start picks the signaling address and opens the SIP listener. Failures wrap errors.ErrTransport.
func (c *Client) Start(ctx context.Context) error {
	if err := c.start(ctx); err != nil {
		c.Stop()
		return fmt.Errorf("%w: %w", errors.ErrTransport, err)
	}
	return nil
}

func (c *Client) start(ctx context.Context) error {
	var err error
	c.transport, err = ParseTransport(c.conf.Transport)
	if err != nil {
		return err
	}
	c.signalingIp, c.signalingIpLocal, err = signalingIPs(ctx, c.conf)
	if err != nil {
		return err
	}
	c.ua, err = sipgo.NewUA(sipgo.WithUserAgent(UserAgent))
	if err != nil {
		return err
	}
	c.sipSrv, err = sipgo.NewServer(c.ua)
	if err != nil {
		return err
	}
	c.sipSrv.OnBye(c.onBye)

	// Over UDP, the client reuses the listener when we advertise the local address, so responses and
	// in-dialog requests come back to the same socket. Both must be bound to the same address.
	reuse := c.transport == TransportUDP && c.signalingIp == c.signalingIpLocal
	host := "0.0.0.0"
	if reuse {
		host = c.signalingIpLocal.String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(c.conf.SIPPort))
	// Stop clears the fields, the serving goroutine only sees its own copy.
	srv := c.sipSrv
	switch c.transport {
	case TransportTCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		c.listener = ln
		c.port = ln.Addr().(*net.TCPAddr).Port
		go c.serve(func() error { return srv.ServeTCP(ln) })
	default:
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return err
		}
		c.listener = pc
		c.port = pc.LocalAddr().(*net.UDPAddr).Port
		go c.serve(func() error { return srv.ServeUDP(pc) })
	}

	opt := sipgo.WithClientHostname(c.signalingIp.String())
	if reuse {
		opt = sipgo.WithClientAddr(net.JoinHostPort(host, strconv.Itoa(c.port)))
	}
	c.sipCli, err = sipgo.NewClient(c.ua, opt)
	if err != nil {
		return err
	}
	c.log.Infow("client started",
		"local", c.signalingIpLocal,
		"external", c.signalingIp,
		"transport", c.transport,
		"port", c.port,
	)
	return nil
}

func (c *Client) serve(fnc func() error) {
	if err := fnc(); err != nil && !c.closing.IsBroken() {
		c.log.Warnw("sip listener stopped", err)
	}
}

// ContactURI is where the remote side sends in-dialog requests.
func (c *Client) ContactURI() sip.Uri {
	u := sip.Uri{
		Scheme: "sip",
		User:   c.conf.FromUser,
		Host:   c.signalingIp.String(),
		Port:   c.port,
	}
	return withTransport(u, c.transport)
}

// Dial creates the RTP port, sends the INVITE and returns the session for the call.
// Failures to create a transport wrap errors.ErrTransport, failures to send the INVITE wrap errors.ErrConnect.
func (c *Client) Dial(ctx context.Context, req DialRequest) (*Session, error) {
	if c.sipCli == nil || c.closing.IsBroken() {
		return nil, fmt.Errorf("%w: client is not running", errors.ErrTransport)
	}
	to, err := ParseURI(req.To)
	if err != nil {
		return nil, errors.InvalidRequest("%v", err)
	}
	ctx, span := Tracer.Start(ctx, "sip.Client.Dial")
	defer span.End()

	port, err := NewMediaPort(c.log, c.mon, MediaOptions{
		IP:           c.signalingIp,
		ListenIP:     netip.IPv4Unspecified(),
		Ports:        c.conf.RTPPort,
		MediaTimeout: c.conf.MediaTimeout,
		InbandDTMF:   c.conf.InbandDTMFEnabled(),
		Frames:       req.Frames,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: rtp: %w", errors.ErrTransport, err)
	}

	contact := c.ContactURI()
	from := contact
	from.UriParams = nil
	from.Port = 0
	sig := newOutbound(c.log, c.mon, c.sipCli, outboundConfig{
		Transport: c.transport,
		From:      from,
		Contact:   contact,
		To:        to,
		User:      c.conf.Username,
		Pass:      c.conf.Password,
	})
	s := NewSession(sig, port, SessionConfig{
		Log:     c.log.WithValues("to", to.String()),
		Monitor: c.mon,
		OnClose: c.removeSession,
	})
	c.cmu.Lock()
	c.sessions[sig.CallID()] = s
	c.cmu.Unlock()

	if err := s.Start(ctx); err != nil {
		span.RecordError(err)
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *Client) removeSession(s *Session) {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	if c.sessions[s.CallID()] == s {
		delete(c.sessions, s.CallID())
	}
}

func (c *Client) onBye(req *sip.Request, tx sip.ServerTransaction) {
	var callID string
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	c.cmu.Lock()
	s := c.sessions[callID]
	c.cmu.Unlock()
	if s == nil {
		c.log.Debugw("BYE for unknown call", "callID", callID)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	s.log.Infow("BYE")
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		s.log.Warnw("cannot respond to BYE", err)
	}
	s.OnEnded(ReasonHangup, nil)
}

// Stop closes all calls and the SIP stack.
func (c *Client) Stop() {
	c.closing.Break()
	c.cmu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.cmu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	if c.sipCli != nil {
		c.sipCli.Close()
		c.sipCli = nil
	}
	if c.sipSrv != nil {
		c.sipSrv.Close()
		c.sipSrv = nil
	}
	if c.listener != nil {
		_ = c.listener.Close()
		c.listener = nil
	}
	if c.ua != nil {
		c.ua.Close()
		c.ua = nil
	}
}
