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

// Package monitor watches the process tree under a launched task and
// records which rank died when. torchrun forks one worker per local rank;
// when a pair test fails, the exit order tells apart the rank that
// crashed from the ranks the elastic agent tore down afterwards.
package monitor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 500 * time.Millisecond

	rankEnvKey = "RANK="
	// RankUnknown marks descendants whose environ could not be read or
	// that carry no RANK variable.
	RankUnknown = -1
)

// ExitEvent records the disappearance of one tracked descendant.
type ExitEvent struct {
	PID  int32     `json:"pid"`
	Rank int       `json:"rank"`
	At   time.Time `json:"at"`
}

// RankMonitor polls the descendants of a root PID and maps each to its
// RANK environment variable. The rank is resolved once per PID; environ
// is gone by the time a process exits, so it cannot be read lazily.
type RankMonitor struct {
	rootPID  int32
	interval time.Duration

	mu    sync.Mutex
	ranks map[int32]int
	exits []ExitEvent

	done chan struct{}
}

func New(rootPID int, interval time.Duration) *RankMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &RankMonitor{
		rootPID:  int32(rootPID),
		interval: interval,
		ranks:    map[int32]int{},
		done:     make(chan struct{}),
	}
}

// Start begins polling in the background. The loop ends when ctx is
// canceled or when the root process is gone and every tracked descendant
// has exited.
func (m *RankMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Done is closed once the poll loop has finished and Exits is final.
func (m *RankMonitor) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the live descendants and their ranks.
func (m *RankMonitor) Snapshot() map[int32]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int32]int, len(m.ranks))
	for pid, rank := range m.ranks {
		out[pid] = rank
	}
	return out
}

// Exits returns the recorded exit events in the order they were observed.
func (m *RankMonitor) Exits() []ExitEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExitEvent, len(m.exits))
	copy(out, m.exits)
	return out
}

func (m *RankMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rootAlive := m.poll()
			m.mu.Lock()
			tracked := len(m.ranks)
			m.mu.Unlock()
			if !rootAlive && tracked == 0 {
				return
			}
		}
	}
}

// poll reconciles the tracked set against the live process tree and
// reports whether the root is still running.
func (m *RankMonitor) poll() bool {
	alive := map[int32]bool{}
	root, err := process.NewProcess(m.rootPID)
	rootAlive := err == nil
	if rootAlive {
		for _, p := range descendants(root) {
			alive[p.Pid] = true
			m.track(p)
		}
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, rank := range m.ranks {
		if alive[pid] {
			continue
		}
		m.exits = append(m.exits, ExitEvent{PID: pid, Rank: rank, At: now})
		log.Debugf("rank monitor: pid %d (rank %d) exited", pid, rank)
		delete(m.ranks, pid)
	}
	return rootAlive
}

func (m *RankMonitor) track(p *process.Process) {
	m.mu.Lock()
	_, known := m.ranks[p.Pid]
	m.mu.Unlock()
	if known {
		return
	}
	rank := resolveRank(p)
	m.mu.Lock()
	m.ranks[p.Pid] = rank
	m.mu.Unlock()
}

// descendants walks the tree breadth-first. Children only reports direct
// children, and torchrun puts workers two levels below the daemon.
func descendants(root *process.Process) []*process.Process {
	var out []*process.Process
	seen := map[int32]bool{root.Pid: true}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			// process.ErrorNoChildren or the process is already gone
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

func resolveRank(p *process.Process) int {
	env, err := p.Environ()
	if err != nil {
		return RankUnknown
	}
	for _, kv := range env {
		if !strings.HasPrefix(kv, rankEnvKey) {
			continue
		}
		rank, err := strconv.Atoi(strings.TrimPrefix(kv, rankEnvKey))
		if err != nil {
			return RankUnknown
		}
		return rank
	}
	return RankUnknown
}
