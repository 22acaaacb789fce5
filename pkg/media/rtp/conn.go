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

package rtp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/pion/rtp"

	"github.com/livekit/protocol/logger"
)

const mtu = 1500

var _ Writer = (*Conn)(nil)

type ConnConfig struct {
	Log logger.Logger
	// MediaTimeout is how long the connection may stay silent once the timeout is enabled.
	MediaTimeout    time.Duration
	TimeoutCallback func()
}

// Conn is a UDP socket carrying a single RTP session.
type Conn struct {
	log     logger.Logger
	conn    *net.UDPConn
	conf    ConnConfig
	closed  core.Fuse
	started core.Fuse

	wmu sync.Mutex

	packets      atomic.Uint64
	received     chan struct{}
	lastPacket   atomic.Int64 // unix nano
	timeoutStart atomic.Int64 // unix nano, zero when disabled

	dest  atomic.Pointer[net.UDPAddr]
	onRTP atomic.Pointer[Handler]
}

// Listen opens an RTP connection on ip using a port from the given range.
func Listen(portMin, portMax int, ip net.IP, conf *ConnConfig) (*Conn, error) {
	uc, err := ListenUDPPortRange(portMin, portMax, ip)
	if err != nil {
		return nil, err
	}
	return NewConn(uc, conf), nil
}

func NewConn(conn *net.UDPConn, conf *ConnConfig) *Conn {
	c := &Conn{
		conn:     conn,
		received: make(chan struct{}),
	}
	if conf != nil {
		c.conf = *conf
	}
	if c.conf.MediaTimeout <= 0 {
		c.conf.MediaTimeout = 15 * time.Second
	}
	c.log = c.conf.Log
	if c.log == nil {
		c.log = logger.GetLogger()
	}
	return c
}

func (c *Conn) LocalAddr() *net.UDPAddr {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *Conn) DestAddr() *net.UDPAddr {
	return c.dest.Load()
}

func (c *Conn) SetDestAddr(addr *net.UDPAddr) {
	c.dest.Store(addr)
}

// Received is closed once the first RTP packet arrives.
func (c *Conn) Received() <-chan struct{} {
	return c.received
}

func (c *Conn) Packets() uint64 {
	return c.packets.Load()
}

func (c *Conn) OnRTP(h Handler) {
	if c == nil {
		return
	}
	if h == nil {
		c.onRTP.Store(nil)
	} else {
		c.onRTP.Store(&h)
	}
}

// Start begins reading packets. It's safe to call more than once.
func (c *Conn) Start() {
	c.started.Once(func() {
		go c.readLoop()
		if c.conf.TimeoutCallback != nil {
			go c.timeoutLoop(c.conf.TimeoutCallback)
		}
	})
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.OnRTP(nil)
	c.closed.Once(func() {
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	buf := make([]byte, mtu)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if !c.closed.IsBroken() {
				c.log.Debugw("rtp read failed", "error", err)
			}
			return
		}
		var p rtp.Packet
		if err := p.Unmarshal(buf[:n]); err != nil {
			continue
		}
		// symmetric RTP: reply to wherever the media comes from
		c.dest.Store(src)
		c.lastPacket.Store(time.Now().UnixNano())
		if c.packets.Add(1) == 1 {
			close(c.received)
		}
		if h := c.onRTP.Load(); h != nil {
			if err := (*h).HandleRTP(&p); err != nil {
				c.log.Debugw("rtp handler failed", "error", err)
			}
		}
	}
}

func (c *Conn) WriteRTP(p *rtp.Packet) error {
	addr := c.dest.Load()
	if addr == nil {
		return nil
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.WriteToUDP(data, addr)
	return err
}

// EnableTimeout starts or stops the media timeout countdown.
func (c *Conn) EnableTimeout(enabled bool) {
	if !enabled {
		c.timeoutStart.Store(0)
		return
	}
	c.timeoutStart.Store(time.Now().UnixNano())
	c.log.Debugw("media timeout enabled", "packets", c.packets.Load(), "timeout", c.conf.MediaTimeout)
}

func (c *Conn) timeoutLoop(onTimeout func()) {
	tick := c.conf.MediaTimeout / 4
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed.Watch():
			return
		case <-ticker.C:
		}
		start := c.timeoutStart.Load()
		if start == 0 {
			continue
		}
		last := max(start, c.lastPacket.Load())
		silent := time.Since(time.Unix(0, last))
		if silent < c.conf.MediaTimeout {
			continue
		}
		c.log.Infow("triggering media timeout",
			"packets", c.packets.Load(),
			"silent", silent,
			"timeout", c.conf.MediaTimeout,
		)
		onTimeout()
		return
	}
}
