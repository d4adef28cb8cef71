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

package schedule

import (
	"fmt"

	"github.com/PaddlePaddle/PaddlePulse/pkg/node"
)

// RankID identifies one GPU rank in the cluster as (node index, local
// rank). The ordering is lexicographic, which makes role assignment
// deterministic: the smaller endpoint of a pair hosts the rendezvous.
type RankID struct {
	NodeIdx int `json:"node_idx"`
	Local   int `json:"local"`
}

func (r RankID) Less(other RankID) bool {
	if r.NodeIdx != other.NodeIdx {
		return r.NodeIdx < other.NodeIdx
	}
	return r.Local < other.Local
}

func (r RankID) String() string {
	return fmt.Sprintf("n%dg%d", r.NodeIdx, r.Local)
}

// Pair is an unordered cross-node rank pair, normalized so A < B.
type Pair struct {
	A RankID `json:"a"`
	B RankID `json:"b"`
}

func NewPair(a, b RankID) Pair {
	if b.Less(a) {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Key is a stable identifier like "n0g1-n2g0".
func (p Pair) Key() string {
	return p.A.String() + "-" + p.B.String()
}

// BuildCrossNodePairs enumerates every unordered pair of ranks that
// crosses a node boundary. Ranks are flattened in node order, so the
// result is deterministic for a given node list. Same-node pairs are
// skipped: loopback traffic says nothing about the fabric.
func BuildCrossNodePairs(nodes node.List) []Pair {
	ranks := []RankID{}
	for i := range nodes {
		for _, local := range nodes[i].Ranks {
			ranks = append(ranks, RankID{NodeIdx: nodes[i].NodeIdx, Local: local})
		}
	}
	pairs := []Pair{}
	for i := 0; i < len(ranks); i++ {
		for j := i + 1; j < len(ranks); j++ {
			if ranks[i].NodeIdx == ranks[j].NodeIdx {
				continue
			}
			pairs = append(pairs, NewPair(ranks[i], ranks[j]))
		}
	}
	return pairs
}
