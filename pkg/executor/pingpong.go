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

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// PingpongExecutor is the worker side of a point-to-point pair test: a
// torchrun launch pinned to one process on this node and a two-node world.
// The pairing of two of these lives in the sweep orchestrator; this type
// only ever runs one endpoint.
type PingpongExecutor struct {
	opts Options
}

func (p *PingpongExecutor) Name() string {
	return string(schema.ExecutorTypePingpong)
}

func (p *PingpongExecutor) Launch(ctx context.Context, spec schema.JobSpec) (*Execution, error) {
	spec.NprocPerNode = 1
	spec.NNodes = 2
	if spec.Script == "" {
		spec.Script = p.opts.DefaultScript
	}
	return launchTorchrun(ctx, spec, p.opts)
}
