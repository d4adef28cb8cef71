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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobSpecValidate(t *testing.T) {
	testCases := []struct {
		name    string
		spec    JobSpec
		wantErr bool
	}{
		{
			name: "shell run only needs a script",
			spec: JobSpec{ExecutorType: ExecutorTypeShell, Script: "/bin/true"},
		},
		{
			name: "pingpong side with full rendezvous info",
			spec: JobSpec{
				ExecutorType: ExecutorTypePingpong,
				NNodes:       2,
				NodeRank:     1,
				MasterAddr:   "10.0.0.7",
				MasterPort:   23456,
				Script:       "bench/pingpong.py",
			},
		},
		{
			name:    "unknown executor type",
			spec:    JobSpec{ExecutorType: "mpirun", Script: "x"},
			wantErr: true,
		},
		{
			name:    "missing script",
			spec:    JobSpec{ExecutorType: ExecutorTypeShell},
			wantErr: true,
		},
		{
			name: "node rank out of range",
			spec: JobSpec{
				ExecutorType: ExecutorTypeTorchrun,
				NNodes:       2,
				NodeRank:     2,
				MasterAddr:   "10.0.0.7",
				MasterPort:   23456,
				Script:       "train.py",
			},
			wantErr: true,
		},
		{
			name: "master addr required for torchrun",
			spec: JobSpec{
				ExecutorType: ExecutorTypeTorchrun,
				NNodes:       2,
				NodeRank:     0,
				MasterPort:   23456,
				Script:       "train.py",
			},
			wantErr: true,
		},
		{
			name: "master port out of range",
			spec: JobSpec{
				ExecutorType: ExecutorTypePingpong,
				NNodes:       2,
				NodeRank:     0,
				MasterAddr:   "10.0.0.7",
				MasterPort:   70000,
				Script:       "bench/pingpong.py",
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobSpecTotalRuns(t *testing.T) {
	assert.Equal(t, 1, (&JobSpec{}).TotalRuns())
	assert.Equal(t, 1, (&JobSpec{Runs: 1}).TotalRuns())
	assert.Equal(t, 5, (&JobSpec{Runs: 5}).TotalRuns())
}

func TestParseEventKind(t *testing.T) {
	testCases := []struct {
		name   string
		wanted EventKind
	}{
		{name: "start", wanted: EventStart},
		{name: "log", wanted: EventLog},
		{name: "heartbeat", wanted: EventHeartbeat},
		{name: "result", wanted: EventResult},
		{name: "error", wanted: EventError},
		{name: "progress", wanted: EventUnknown},
		{name: "", wanted: EventUnknown},
	}
	for _, tc := range testCases {
		t.Run("kind_"+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wanted, ParseEventKind(tc.name))
		})
	}
}
