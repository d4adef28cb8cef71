/*
Copyright (c) 2023 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package node

import (
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"strings"
)

// HostSpec is one hostfile line: a daemon address plus the number of
// local ranks the operator expects there, zero when unspecified.
type HostSpec struct {
	Addr  string
	Slots int
}

// ParseHostfile reads an MPI-style hostfile: one "host[:port] [slots=N]"
// per line, # starts a comment, blank lines are skipped. defaultPort
// fills in addresses without a port.
func ParseHostfile(path string, defaultPort int) ([]HostSpec, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseHostfile(string(data), defaultPort)
}

func parseHostfile(text string, defaultPort int) ([]HostSpec, error) {
	hosts := []HostSpec{}
	for lineno, raw := range strings.Split(text, "\n") {
		line := raw
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h, err := parseHostLine(line, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("hostfile line %d: %v", lineno+1, err)
		}
		hosts = append(hosts, *h)
	}
	return hosts, nil
}

// NormalizeAddr appends defaultPort to an address that lacks a port.
func NormalizeAddr(addr string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, strconv.Itoa(defaultPort))
	}
	return addr
}

func parseHostLine(line string, defaultPort int) (*HostSpec, error) {
	parts := strings.Fields(line)
	h := &HostSpec{Addr: NormalizeAddr(parts[0], defaultPort)}
	for _, kv := range parts[1:] {
		kvs := strings.SplitN(kv, "=", 2)
		if len(kvs) != 2 {
			return nil, fmt.Errorf("malformed option %q", kv)
		}
		switch kvs[0] {
		case "slots":
			n, err := strconv.Atoi(kvs[1])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad slots value %q", kvs[1])
			}
			h.Slots = n
		default:
			return nil, fmt.Errorf("unknown option %q", kvs[0])
		}
	}
	return h, nil
}

// Addrs flattens host specs into daemon addresses, preserving order.
func Addrs(hosts []HostSpec) []string {
	addrs := make([]string, len(hosts))
	for i := range hosts {
		addrs[i] = hosts[i].Addr
	}
	return addrs
}
