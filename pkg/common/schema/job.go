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

package schema

import (
	"fmt"
	"time"
)

type ExecutorType string

const (
	ExecutorTypeShell    ExecutorType = "shell"
	ExecutorTypeTorchrun ExecutorType = "torchrun"
	ExecutorTypePingpong ExecutorType = "pingpong"

	// rendezvous variables consumed by torch elastic. The executor strips
	// them from the inherited environment before injecting its own values,
	// otherwise a stale RANK from the daemon's environment leaks into the
	// child and corrupts the test topology.
	EnvMasterAddr = "MASTER_ADDR"
	EnvMasterPort = "MASTER_PORT"
	EnvNNodes     = "NNODES"
	EnvNodeRank   = "NODE_RANK"
	EnvRank       = "RANK"

	DefaultNprocPerNode      = 1
	DefaultHeartbeatInterval = time.Second
)

// ScrubEnvKeys lists the environment variables removed from the child
// process environment before launch.
var ScrubEnvKeys = []string{EnvMasterAddr, EnvMasterPort, EnvNNodes, EnvNodeRank, EnvRank}

// JobSpec is the task payload posted to a worker daemon. One JobSpec
// describes one side of a point-to-point test, or a standalone script run.
type JobSpec struct {
	ExecutorType ExecutorType `json:"executor_type"`
	NprocPerNode int          `json:"nproc_per_node,omitempty"`
	NNodes       int          `json:"nnodes,omitempty"`
	NodeRank     int          `json:"node_rank,omitempty"`
	MasterAddr   string       `json:"master_addr,omitempty"`
	MasterPort   int          `json:"master_port,omitempty"`
	Script       string       `json:"script"`
	ScriptArgs   []string     `json:"script_args,omitempty"`
	// Runs asks the daemon to restart the subprocess and emit this many
	// start..result cycles over one connection. Zero means one run.
	Runs            int  `json:"runs,omitempty"`
	RepeatUntilFail bool `json:"repeat_until_fail,omitempty"`
}

func (j *JobSpec) Validate() error {
	switch j.ExecutorType {
	case ExecutorTypeShell, ExecutorTypeTorchrun, ExecutorTypePingpong:
	default:
		return fmt.Errorf("unknown executor_type %q", j.ExecutorType)
	}
	if j.Script == "" {
		return fmt.Errorf("script is required")
	}
	if j.ExecutorType != ExecutorTypeShell {
		if j.NNodes < 1 {
			return fmt.Errorf("nnodes must be >= 1, got %d", j.NNodes)
		}
		if j.NodeRank < 0 || j.NodeRank >= j.NNodes {
			return fmt.Errorf("node_rank %d out of range [0, %d)", j.NodeRank, j.NNodes)
		}
		if j.MasterAddr == "" {
			return fmt.Errorf("master_addr is required for %s", j.ExecutorType)
		}
		if j.MasterPort <= 0 || j.MasterPort > 65535 {
			return fmt.Errorf("master_port %d out of range", j.MasterPort)
		}
	}
	if j.Runs < 0 {
		return fmt.Errorf("runs must be >= 0, got %d", j.Runs)
	}
	return nil
}

// TotalRuns normalizes the Runs field, zero and one both meaning a single run.
func (j *JobSpec) TotalRuns() int {
	if j.Runs <= 1 {
		return 1
	}
	return j.Runs
}
