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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNodesFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileYAML(t *testing.T) {
	path := writeNodesFile(t, "nodes.yaml", `
- name: worker-0
  ip: 10.0.0.10
  port: 8866
  ranks: [0, 1]
- name: worker-1
  ip: 10.0.0.11
  port: 8866
  ranks: [0, 1]
`)
	nodes, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, 0, nodes[0].NodeIdx, "omitted indices are assigned in file order")
	assert.Equal(t, 1, nodes[1].NodeIdx)
	assert.Equal(t, "10.0.0.11:8866", nodes[1].Addr())
}

func TestLoadFileJSON(t *testing.T) {
	path := writeNodesFile(t, "nodes.json",
		`[{"name":"a","ip":"10.0.0.10","port":8866,"ranks":[0]}]`)
	nodes, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].Name)
}

func TestLoadFileValidates(t *testing.T) {
	// Explicit indices that contradict file order must not pass.
	path := writeNodesFile(t, "nodes.yaml", `
- {name: a, ip: 10.0.0.10, port: 8866, node_idx: 1, ranks: [0]}
- {name: b, ip: 10.0.0.11, port: 8866, node_idx: 0, ranks: [0]}
`)
	_, err := LoadFile(path)
	assert.Error(t, err)

	dup := writeNodesFile(t, "dup.yaml", `
- {name: a, ip: 10.0.0.10, port: 8866, ranks: [0, 0]}
`)
	_, err = LoadFile(dup)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
