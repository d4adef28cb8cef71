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
	"strconv"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// TorchrunExecutor wraps the script in an elastic distributed launch. One
// invocation runs this node's share of an nnodes-wide job; the rendezvous
// address and port in the spec bootstrap the process group.
type TorchrunExecutor struct {
	opts Options
}

func (t *TorchrunExecutor) Name() string {
	return string(schema.ExecutorTypeTorchrun)
}

func (t *TorchrunExecutor) Launch(ctx context.Context, spec schema.JobSpec) (*Execution, error) {
	return launchTorchrun(ctx, spec, t.opts)
}

func launchTorchrun(ctx context.Context, spec schema.JobSpec, opts Options) (*Execution, error) {
	nproc := spec.NprocPerNode
	if nproc <= 0 {
		nproc = schema.DefaultNprocPerNode
	}
	argv := []string{
		opts.launcher(),
		fmt.Sprintf("--nproc_per_node=%d", nproc),
		fmt.Sprintf("--nnodes=%d", spec.NNodes),
		fmt.Sprintf("--node_rank=%d", spec.NodeRank),
		fmt.Sprintf("--master_addr=%s", spec.MasterAddr),
		fmt.Sprintf("--master_port=%d", spec.MasterPort),
		spec.Script,
	}
	argv = append(argv, spec.ScriptArgs...)

	// the launcher reads these too; keep env and argv consistent
	env := map[string]string{
		schema.EnvMasterAddr: spec.MasterAddr,
		schema.EnvMasterPort: strconv.Itoa(spec.MasterPort),
		schema.EnvNNodes:     strconv.Itoa(spec.NNodes),
		schema.EnvNodeRank:   strconv.Itoa(spec.NodeRank),
	}
	return launch(ctx, spec, argv, env, opts)
}
