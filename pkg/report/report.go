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

// Package report holds the outcome of a sweep: every pair's verdict
// grouped by round, plus the aggregate summary the exit code derives
// from.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/PaddlePaddle/PaddlePulse/pkg/invoke"
)

// PairResult records the final outcome of one cross-node pair. Left is
// the rendezvous master side (node_rank 0), right the other. Attempt is
// 1-based and names the attempt whose results are recorded, so a pair
// that needed one retry shows attempt 2.
type PairResult struct {
	PairID      int                `json:"pair_id"`
	NodeA       string             `json:"node_a"`
	NodeAIP     string             `json:"node_a_ip"`
	LocalA      int                `json:"local_a"`
	NodeB       string             `json:"node_b"`
	NodeBIP     string             `json:"node_b_ip"`
	LocalB      int                `json:"local_b"`
	Attempt     int                `json:"attempt"`
	LeftResult  *invoke.NodeResult `json:"left_result,omitempty"`
	RightResult *invoke.NodeResult `json:"right_result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Failed reports whether the pair counts against the sweep. A pair with
// both a failed side and a pair-level error is still one failure.
func (p *PairResult) Failed() bool {
	if p.Error != "" {
		return true
	}
	if p.LeftResult == nil || p.RightResult == nil {
		return true
	}
	return p.LeftResult.Failed() || p.RightResult.Failed()
}

type RoundDetail struct {
	RoundIdx int          `json:"round_idx"`
	Pairs    []PairResult `json:"pairs"`
}

type Summary struct {
	TotalPairs  int `json:"total_pairs"`
	FailedPairs int `json:"failed_pairs"`
	Rounds      int `json:"rounds"`
	// Note carries an operator annotation into the archived report,
	// e.g. which maintenance window triggered the sweep.
	Note                   string    `json:"note,omitempty"`
	StartedAt              time.Time `json:"started_at"`
	DurationInMilliseconds int64     `json:"duration_in_milliseconds"`
}

type Report struct {
	RoundsDetail []RoundDetail `json:"rounds_detail"`
	Summary      Summary       `json:"summary"`
}

// Build assembles a report from per-round results and computes the
// summary counts. A nil slice builds a valid zero-pair report.
func Build(rounds []RoundDetail) *Report {
	if rounds == nil {
		rounds = []RoundDetail{}
	}
	return &Report{
		RoundsDetail: rounds,
		Summary:      BuildSummary(rounds),
	}
}

func BuildSummary(rounds []RoundDetail) Summary {
	s := Summary{Rounds: len(rounds)}
	for i := range rounds {
		for j := range rounds[i].Pairs {
			s.TotalPairs++
			if rounds[i].Pairs[j].Failed() {
				s.FailedPairs++
			}
		}
	}
	return s
}

// FailedPairs lists the failed pairs across all rounds in report order.
func (r *Report) FailedPairs() []PairResult {
	failed := []PairResult{}
	for i := range r.RoundsDetail {
		for j := range r.RoundsDetail[i].Pairs {
			if r.RoundsDetail[i].Pairs[j].Failed() {
				failed = append(failed, r.RoundsDetail[i].Pairs[j])
			}
		}
	}
	return failed
}

func (r *Report) Succeeded() bool {
	return r.Summary.FailedPairs == 0
}

// WriteFile persists the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
