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
	"errors"
	"math/rand/v2"
	"net"
)

var ErrListen = errors.New("failed to listen on udp port")

// ListenUDPPortRange binds a UDP socket on ip using a random free port in [portMin, portMax].
// A zero range lets the OS pick the port.
func ListenUDPPortRange(portMin, portMax int, ip net.IP) (*net.UDPConn, error) {
	if portMin == 0 && portMax == 0 {
		return net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	}
	if portMin <= 0 {
		portMin = 1
	}
	if portMax <= 0 || portMax > 0xFFFF {
		portMax = 0xFFFF
	}
	if portMin > portMax {
		return nil, ErrListen
	}
	n := portMax - portMin + 1
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		port := portMin + (start+i)%n
		if c, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port}); err == nil {
			return c, nil
		}
	}
	return nil, ErrListen
}
