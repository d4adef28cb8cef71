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
	"fmt"
	"time"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// Executor launches the subprocess described by a JobSpec and exposes its
// lifecycle as an event stream. Launch never reports subprocess start
// failures as errors: a task that cannot start is a failed task, so the
// failure arrives as a result event with success=false. The returned error
// is reserved for resource problems before the launch is attempted.
type Executor interface {
	Name() string
	Launch(ctx context.Context, spec schema.JobSpec) (*Execution, error)
}

// Options tune every executor variant built by New.
type Options struct {
	// HeartbeatInterval is the silence span after which a heartbeat event
	// is emitted. Zero means schema.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// LaunchBinary overrides the distributed launcher binary ("torchrun").
	// Tests point it at a stub.
	LaunchBinary string
	// DefaultScript is used by the pingpong executor when the request does
	// not carry its own script path.
	DefaultScript string
}

func (o Options) heartbeat() time.Duration {
	if o.HeartbeatInterval <= 0 {
		return schema.DefaultHeartbeatInterval
	}
	return o.HeartbeatInterval
}

func (o Options) launcher() string {
	if o.LaunchBinary == "" {
		return "torchrun"
	}
	return o.LaunchBinary
}

// New maps an executor_type to its implementation. Unknown kinds are the
// one launch error the daemon turns into HTTP 400 instead of a stream.
func New(kind schema.ExecutorType, opts Options) (Executor, error) {
	switch kind {
	case schema.ExecutorTypeShell:
		return &ShellExecutor{opts: opts}, nil
	case schema.ExecutorTypeTorchrun:
		return &TorchrunExecutor{opts: opts}, nil
	case schema.ExecutorTypePingpong:
		return &PingpongExecutor{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown executor_type %q", kind)
	}
}
