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

package executor

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// collectEvents drains the stream until it closes, guarding against hangs.
func collectEvents(t *testing.T, e *Execution, timeout time.Duration) []schema.Event {
	t.Helper()
	var events []schema.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("event stream did not close within %v, got %d events so far", timeout, len(events))
		}
	}
}

func lastResult(t *testing.T, events []schema.Event) schema.ResultPayload {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == schema.EventResult {
			var payload schema.ResultPayload
			require.NoError(t, json.Unmarshal([]byte(events[i].Data), &payload))
			return payload
		}
	}
	t.Fatal("no result event in stream")
	return schema.ResultPayload{}
}

func logLines(events []schema.Event) []string {
	var lines []string
	for _, ev := range events {
		if ev.Kind == schema.EventLog {
			lines = append(lines, ev.Data)
		}
	}
	return lines
}

func TestNewExecutor(t *testing.T) {
	testCases := []struct {
		kind    schema.ExecutorType
		name    string
		wantErr bool
	}{
		{kind: schema.ExecutorTypeShell, name: "shell"},
		{kind: schema.ExecutorTypeTorchrun, name: "torchrun"},
		{kind: schema.ExecutorTypePingpong, name: "pingpong"},
		{kind: "mpirun", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			exe, err := New(tc.kind, Options{})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.name, exe.Name())
		})
	}
}

func TestShellRunSuccess(t *testing.T) {
	exe, err := New(schema.ExecutorTypeShell, Options{})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeShell,
		Script:       "/bin/sh",
		ScriptArgs:   []string{"-c", "echo one; echo two 1>&2"},
	})
	require.NoError(t, err)

	events := collectEvents(t, execution, 10*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventStart, events[0].Kind)
	assert.Equal(t, execution.RunID(), events[0].Data)

	// stderr and stdout are one combined stream
	assert.ElementsMatch(t, []string{"one", "two"}, logLines(events))

	result := lastResult(t, events)
	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Equal(t, 0, execution.PID())
}

func TestShellRunExitCode(t *testing.T) {
	exe, err := New(schema.ExecutorTypeShell, Options{})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeShell,
		Script:       "/bin/sh",
		ScriptArgs:   []string{"-c", "exit 3"},
		NodeRank:     1,
	})
	require.NoError(t, err)

	events := collectEvents(t, execution, 10*time.Second)
	result := lastResult(t, events)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "exit status 3")
	assert.Equal(t, 1, result.NodeRank)
}

func TestLaunchFailureIsFailedResult(t *testing.T) {
	exe, err := New(schema.ExecutorTypeShell, Options{})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeShell,
		Script:       "/no/such/binary",
	})
	require.NoError(t, err, "a task that cannot start is a failed task, not a launch error")

	events := collectEvents(t, execution, 10*time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventStart, events[0].Kind)
	result := lastResult(t, events)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "launch")
}

func TestHeartbeatDuringSilence(t *testing.T) {
	exe, err := New(schema.ExecutorTypeShell, Options{HeartbeatInterval: 50 * time.Millisecond})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeShell,
		Script:       "/bin/sh",
		ScriptArgs:   []string{"-c", "sleep 0.5"},
	})
	require.NoError(t, err)

	events := collectEvents(t, execution, 10*time.Second)
	beats := 0
	for _, ev := range events {
		if ev.Kind == schema.EventHeartbeat {
			beats++
			_, parseErr := time.Parse(time.RFC3339, ev.Data)
			assert.NoError(t, parseErr)
		}
	}
	assert.GreaterOrEqual(t, beats, 1, "silent half second must produce heartbeats")
	assert.True(t, lastResult(t, events).Success)
}

func TestKillStopsStream(t *testing.T) {
	exe, err := New(schema.ExecutorTypeShell, Options{})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeShell,
		Script:       "/bin/sh",
		ScriptArgs:   []string{"-c", "sleep 30"},
	})
	require.NoError(t, err)

	// wait for start so the process is certainly live
	ev, ok := <-execution.Events()
	require.True(t, ok)
	require.Equal(t, schema.EventStart, ev.Kind)
	assert.NotZero(t, execution.PID())

	require.NoError(t, execution.Kill())
	assert.NoError(t, execution.Kill(), "kill is idempotent")

	// the stream must close promptly instead of draining the full sleep
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-execution.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after kill")
		}
	}
}

func TestScrubbedEnv(t *testing.T) {
	t.Setenv(schema.EnvMasterAddr, "stale-addr")
	t.Setenv(schema.EnvRank, "7")
	t.Setenv("PULSE_KEEP_ME", "yes")

	env := scrubbedEnv(map[string]string{schema.EnvMasterAddr: "10.0.0.9"})
	joined := map[string]bool{}
	for _, kv := range env {
		joined[kv] = true
	}
	assert.True(t, joined["MASTER_ADDR=10.0.0.9"], "executor value replaces the stale one")
	assert.False(t, joined["MASTER_ADDR=stale-addr"])
	assert.False(t, joined["RANK=7"], "inherited RANK is scrubbed")
	assert.True(t, joined["PULSE_KEEP_ME=yes"], "unrelated variables survive")
}

// writeStubLauncher creates a torchrun stand-in that prints its argv and
// the rendezvous environment it sees.
func writeStubLauncher(t *testing.T) string {
	t.Helper()
	stub := filepath.Join(t.TempDir(), "torchrun-stub")
	script := "#!/bin/sh\n" +
		"echo \"argv: $@\"\n" +
		"echo \"env_master_addr=$MASTER_ADDR\"\n" +
		"echo \"env_rank=${RANK:-unset}\"\n"
	require.NoError(t, ioutil.WriteFile(stub, []byte(script), 0755))
	return stub
}

func TestTorchrunCommandLine(t *testing.T) {
	t.Setenv(schema.EnvRank, "99")

	exe, err := New(schema.ExecutorTypeTorchrun, Options{LaunchBinary: writeStubLauncher(t)})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypeTorchrun,
		NprocPerNode: 2,
		NNodes:       4,
		NodeRank:     3,
		MasterAddr:   "10.1.2.3",
		MasterPort:   23456,
		Script:       "train.py",
		ScriptArgs:   []string{"--steps", "10"},
	})
	require.NoError(t, err)

	events := collectEvents(t, execution, 10*time.Second)
	lines := logLines(events)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "--nproc_per_node=2")
	assert.Contains(t, lines[0], "--nnodes=4")
	assert.Contains(t, lines[0], "--node_rank=3")
	assert.Contains(t, lines[0], "--master_addr=10.1.2.3")
	assert.Contains(t, lines[0], "--master_port=23456")
	assert.Contains(t, lines[0], "train.py --steps 10")
	assert.Contains(t, lines, "env_master_addr=10.1.2.3")
	assert.Contains(t, lines, "env_rank=unset", "stale RANK must not leak into the child")
	assert.True(t, lastResult(t, events).Success)
}

func TestPingpongPinsTopology(t *testing.T) {
	exe, err := New(schema.ExecutorTypePingpong, Options{
		LaunchBinary:  writeStubLauncher(t),
		DefaultScript: "bench/pingpong.py",
	})
	require.NoError(t, err)

	execution, err := exe.Launch(context.Background(), schema.JobSpec{
		ExecutorType: schema.ExecutorTypePingpong,
		NprocPerNode: 8, // must be overridden to 1
		NNodes:       2,
		NodeRank:     1,
		MasterAddr:   "10.1.2.3",
		MasterPort:   20001,
	})
	require.NoError(t, err)

	events := collectEvents(t, execution, 10*time.Second)
	lines := logLines(events)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "--nproc_per_node=1")
	assert.Contains(t, lines[0], "--nnodes=2")
	assert.Contains(t, lines[0], "bench/pingpong.py")
}
