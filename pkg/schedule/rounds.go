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

import "math/rand"

// PartitionIntoRounds greedily packs pairs into rounds where no rank
// appears twice, so every pair in a round can run concurrently without
// sharing an endpoint. Greedy maximal matching is enough here; optimal
// edge coloring would save few rounds at much higher complexity. Every
// input pair lands in exactly one round.
//
// With a nil rng the partition is deterministic in input order. With an
// rng the remaining pairs are shuffled before each round, which spreads
// repeated sweeps across different groupings.
func PartitionIntoRounds(pairs []Pair, rng *rand.Rand) [][]Pair {
	remaining := make([]Pair, len(pairs))
	copy(remaining, pairs)

	rounds := [][]Pair{}
	for len(remaining) > 0 {
		if rng != nil {
			rng.Shuffle(len(remaining), func(i, j int) {
				remaining[i], remaining[j] = remaining[j], remaining[i]
			})
		}
		used := map[RankID]bool{}
		round := []Pair{}
		leftover := []Pair{}
		for _, p := range remaining {
			if used[p.A] || used[p.B] {
				leftover = append(leftover, p)
				continue
			}
			used[p.A] = true
			used[p.B] = true
			round = append(round, p)
		}
		if len(round) == 0 {
			// Unreachable with well-formed pairs (A != B), but an empty
			// round must never spin forever.
			break
		}
		rounds = append(rounds, round)
		remaining = leftover
	}
	return rounds
}
