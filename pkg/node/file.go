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
	"fmt"
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// LoadFile reads a static cluster description, YAML or JSON, into a
// node list. Entries may omit node_idx: when every entry leaves it at
// zero, indices are assigned densely in file order. The loaded list is
// validated for index stability, so a sweep can trust it the same way
// it trusts live discovery.
func LoadFile(path string) (List, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	nodes := List{}
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	assignIdx := true
	for i := range nodes {
		if nodes[i].NodeIdx != 0 {
			assignIdx = false
			break
		}
	}
	if assignIdx {
		for i := range nodes {
			nodes[i].NodeIdx = i
		}
	}
	if err := nodes.Validate(); err != nil {
		return nil, err
	}
	return nodes, nil
}
