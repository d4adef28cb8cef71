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
	"net"
	"os"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// DeviceInfo carries informational hardware facts gathered by the local
// probe. Fields are best effort and may be zero.
type DeviceInfo struct {
	GPUVendor     string `json:"gpu_vendor,omitempty"`
	GPUCount      int    `json:"gpu_count,omitempty"`
	LogicalCores  int    `json:"logical_cores,omitempty"`
	MemoryTotalMB uint64 `json:"memory_total_mb,omitempty"`
}

// NodeInfo describes one worker daemon as seen by discovery. NodeIdx is
// the dense index assigned by discovery order and identifies the node in
// every rank id of the sweep.
type NodeInfo struct {
	Name        string     `json:"name"`
	IP          string     `json:"ip"`
	Port        int        `json:"port"`
	NodeIdx     int        `json:"node_idx"`
	Ranks       []int      `json:"ranks"`
	Device      DeviceInfo `json:"device,omitempty"`
	ProbeErrors []string   `json:"probe_errors,omitempty"`
}

func (n *NodeInfo) Addr() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(n.Port))
}

// List is an index-stable set of nodes, ordered by NodeIdx.
type List []NodeInfo

func (l List) TotalRanks() int {
	total := 0
	for i := range l {
		total += len(l[i].Ranks)
	}
	return total
}

// Validate checks the index stability every scheduling decision relies on:
// NodeIdx values must be exactly 0..len-1 in order, each node must expose
// at least one rank, and rank ids must be unique per node.
func (l List) Validate() error {
	for i := range l {
		if l[i].NodeIdx != i {
			return fmt.Errorf("node %s has node_idx %d, want %d", l[i].Name, l[i].NodeIdx, i)
		}
		if len(l[i].Ranks) == 0 {
			return fmt.Errorf("node %s exposes no ranks", l[i].Name)
		}
		seen := make(map[int]bool, len(l[i].Ranks))
		for _, r := range l[i].Ranks {
			if seen[r] {
				return fmt.Errorf("node %s has duplicate rank %d", l[i].Name, r)
			}
			seen[r] = true
		}
	}
	return nil
}

// Probe collects this node's NodeInfo. Probing never fails: anything that
// cannot be determined is recorded in ProbeErrors and the field stays at
// its zero value.
func Probe(port int, ranks []int) NodeInfo {
	info := NodeInfo{Port: port, Ranks: ranks}
	if len(info.Ranks) == 0 {
		info.Ranks = []int{0}
	}

	hostname, err := os.Hostname()
	if err != nil {
		info.ProbeErrors = append(info.ProbeErrors, fmt.Sprintf("hostname: %v", err))
	} else {
		info.Name = hostname
	}

	ip, err := firstNonLoopbackIPv4()
	if err != nil {
		info.ProbeErrors = append(info.ProbeErrors, fmt.Sprintf("ip: %v", err))
		info.IP = "127.0.0.1"
	} else {
		info.IP = ip
	}

	info.Device = probeDevice(len(info.Ranks), &info.ProbeErrors)
	if len(info.ProbeErrors) > 0 {
		log.Warnf("node probe finished with %d warnings: %v", len(info.ProbeErrors), info.ProbeErrors)
	}
	return info
}

func probeDevice(rankCount int, probeErrors *[]string) DeviceInfo {
	device := DeviceInfo{GPUCount: rankCount}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		device.GPUVendor = "nvidia"
	} else if _, err := os.Stat("/dev/kfd"); err == nil {
		device.GPUVendor = "amd"
	}

	cores, err := cpu.Counts(true)
	if err != nil {
		*probeErrors = append(*probeErrors, fmt.Sprintf("cpu counts: %v", err))
	} else {
		device.LogicalCores = cores
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		*probeErrors = append(*probeErrors, fmt.Sprintf("virtual memory: %v", err))
	} else {
		device.MemoryTotalMB = vm.Total / (1 << 20)
	}
	return device
}

func firstNonLoopbackIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
