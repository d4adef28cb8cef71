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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

const (
	// maxLineBytes caps one streamed log line; longer lines are split by
	// the scanner rather than aborting the stream.
	maxLineBytes = 1 << 20
)

// Execution is one start..result cycle of a task subprocess. Events() is a
// single-consumer stream that closes after the terminal result event. The
// subprocess handle lives on the Execution and is only touched under its
// mutex, so Kill can race safely with the run goroutine.
type Execution struct {
	runID     string
	events    chan schema.Event
	done      chan struct{}
	heartbeat time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	pid    int
	killed bool
}

// RunID identifies this cycle in logs, metrics and the run history.
func (e *Execution) RunID() string {
	return e.runID
}

// Events returns the event stream: start, then log/heartbeat events, then
// exactly one result, then the channel closes. Consume it exactly once.
func (e *Execution) Events() <-chan schema.Event {
	return e.events
}

// PID returns the subprocess pid, or 0 before launch and after exit.
func (e *Execution) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pid
}

// Kill terminates the whole subprocess group and releases the stream.
// Idempotent; safe to call from any goroutine.
func (e *Execution) Kill() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed {
		return nil
	}
	e.killed = true
	close(e.done)
	if e.cmd != nil && e.cmd.Process != nil {
		// the negative pid addresses the process group set up at launch
		return syscall.Kill(-e.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}

func (e *Execution) setCmd(cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmd = cmd
	if cmd != nil && cmd.Process != nil {
		e.pid = cmd.Process.Pid
	}
}

func (e *Execution) clearCmd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmd = nil
	e.pid = 0
}

// emit delivers an event unless the execution was killed. A killed stream
// may drop its tail; the consumer is gone anyway.
func (e *Execution) emit(ev schema.Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Execution) emitResult(nodeRank int, success bool, errMsg string) {
	payload, err := json.Marshal(schema.ResultPayload{
		NodeRank: nodeRank,
		Success:  success,
		Error:    errMsg,
	})
	if err != nil {
		// ResultPayload is plain data; this cannot happen
		payload = []byte(fmt.Sprintf(`{"node_rank":%d,"success":false}`, nodeRank))
	}
	e.emit(schema.Event{Kind: schema.EventResult, Data: string(payload)})
}

// launch starts argv with the scrubbed environment plus env and streams its
// combined stdout+stderr. It is the shared path of every executor variant.
func launch(ctx context.Context, spec schema.JobSpec, argv []string, env map[string]string, opts Options) (*Execution, error) {
	e := &Execution{
		runID:     uuid.NewString(),
		events:    make(chan schema.Event),
		done:      make(chan struct{}),
		heartbeat: opts.heartbeat(),
	}
	entry := logger.LoggerForRun(e.runID)
	entry.Infof("executing: %s", strings.Join(argv, " "))

	// the read side outlives cmd.Wait, so wire the pipe by hand instead of
	// using StdoutPipe, and share it between stdout and stderr
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %v", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Env = scrubbedEnv(env)
	// own process group, so Kill reaps launcher children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startErr := cmd.Start()
	// the child holds its own copy of the write end
	pw.Close()
	if startErr == nil {
		e.setCmd(cmd)
	} else {
		pr.Close()
	}

	go e.run(spec, cmd, pr, startErr, entry)
	return e, nil
}

func (e *Execution) run(spec schema.JobSpec, cmd *exec.Cmd, pr *os.File, startErr error, entry *log.Entry) {
	defer close(e.events)

	e.emit(schema.Event{Kind: schema.EventStart, Data: e.runID})
	if startErr != nil {
		entry.Errorf("launch failed: %v", startErr)
		e.emitResult(spec.NodeRank, false, fmt.Sprintf("launch: %v", startErr))
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-e.done:
				return
			}
		}
	}()

	hb := time.NewTimer(e.heartbeat)
	defer hb.Stop()
stream:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break stream
			}
			e.emit(schema.Event{Kind: schema.EventLog, Data: line})
			if !hb.Stop() {
				select {
				case <-hb.C:
				default:
				}
			}
			hb.Reset(e.heartbeat)
		case <-hb.C:
			e.emit(schema.Event{Kind: schema.EventHeartbeat, Data: time.Now().Format(time.RFC3339)})
			hb.Reset(e.heartbeat)
		case <-e.done:
			break stream
		}
	}

	waitErr := cmd.Wait()
	pr.Close()
	e.clearCmd()

	if waitErr != nil {
		entry.Warnf("task exited: %v", waitErr)
		e.emitResult(spec.NodeRank, false, waitErr.Error())
		return
	}
	entry.Infof("task exited cleanly")
	e.emitResult(spec.NodeRank, true, "")
}

// scrubbedEnv builds the child environment: the daemon's own environment
// minus the rendezvous variables, plus the executor's computed values. A
// stale MASTER_ADDR or RANK inherited from the daemon would corrupt the
// child's test topology.
func scrubbedEnv(extra map[string]string) []string {
	scrub := make(map[string]bool, len(schema.ScrubEnvKeys))
	for _, k := range schema.ScrubEnvKeys {
		scrub[k] = true
	}
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || scrub[parts[0]] {
			continue
		}
		envMap[parts[0]] = parts[1]
	}
	for k, v := range extra {
		envMap[k] = v
	}
	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
