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

package sip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/livekit/sip-pager/pkg/config"
)

const publicIPService = "http://ip-api.com/json/"

// signalingIPs returns the address advertised in SIP and SDP and the one used locally.
func signalingIPs(ctx context.Context, conf *config.Config) (external, local netip.Addr, err error) {
	switch {
	case conf.UseExternalIP:
		if external, err = getPublicIP(ctx); err != nil {
			return
		}
		local, err = getLocalIP(conf.LocalNet)
	case conf.NAT1To1IP != "":
		external, err = netip.ParseAddr(conf.NAT1To1IP)
		local = external
	default:
		local, err = getLocalIP(conf.LocalNet)
		external = local
	}
	return
}

func getPublicIP(ctx context.Context) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicIPService, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	ip := struct {
		Query string
	}{}
	if err = json.NewDecoder(resp.Body).Decode(&ip); err != nil {
		return netip.Addr{}, err
	}
	if ip.Query == "" {
		return netip.Addr{}, fmt.Errorf("public ip lookup returned no address")
	}
	return netip.ParseAddr(ip.Query)
}

func getLocalIP(localNet string) (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}
	var netw *netip.Prefix
	if localNet != "" {
		nw, err := netip.ParsePrefix(localNet)
		if err != nil {
			return netip.Addr{}, err
		}
		netw = &nw
	}
	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPAddr:
				ip = v.IP
			case *net.IPNet:
				ip = v.IP
			default:
				continue
			}
			addr, ok := netip.AddrFromSlice(ip.To4())
			if !ok || addr.IsLoopback() {
				continue
			}
			if netw != nil && !netw.Contains(addr) {
				continue
			}
			return addr, nil
		}
	}
	if netw != nil {
		return netip.Addr{}, fmt.Errorf("no local interface in %s", localNet)
	}
	return netip.Addr{}, fmt.Errorf("no local interface found")
}
