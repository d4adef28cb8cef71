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

// ShellExecutor runs the script directly, with no launcher wrapping. Used
// for standalone diagnostics and by tests.
type ShellExecutor struct {
	opts Options
}

func (s *ShellExecutor) Name() string {
	return string(schema.ExecutorTypeShell)
}

func (s *ShellExecutor) Launch(ctx context.Context, spec schema.JobSpec) (*Execution, error) {
	argv := append([]string{spec.Script}, spec.ScriptArgs...)
	return launch(ctx, spec, argv, nil, s.opts)
}
