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

package daemon

import (
	"sort"
	"time"

	"github.com/bluele/gcache"
	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"

	"github.com/PaddlePaddle/PaddlePulse/pkg/executor"
	"github.com/PaddlePaddle/PaddlePulse/pkg/monitor"
)

const defaultHistorySize = 128

// RunSummary is what the history keeps per finished run. RankExits names
// the local ranks whose worker processes died during the run.
type RunSummary struct {
	RunID                  string              `json:"run_id"`
	Executor               string              `json:"executor"`
	Script                 string              `json:"script"`
	Success                bool                `json:"success"`
	Error                  string              `json:"error,omitempty"`
	StartTime              time.Time           `json:"start_time"`
	DurationInMilliseconds int64               `json:"duration_in_milliseconds"`
	RankExits              []monitor.ExitEvent `json:"rank_exits,omitempty"`
}

// Tracker holds the live executions and a bounded history of finished
// runs. Both sides are safe for concurrent handlers.
type Tracker struct {
	live    cmap.ConcurrentMap
	history gcache.Cache
}

func NewTracker(historySize int) *Tracker {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Tracker{
		live:    cmap.New(),
		history: gcache.New(historySize).LRU().Build(),
	}
}

func (t *Tracker) Register(exec *executor.Execution) {
	t.live.Set(exec.RunID(), exec)
}

func (t *Tracker) Unregister(runID string) {
	t.live.Remove(runID)
}

func (t *Tracker) Get(runID string) (*executor.Execution, bool) {
	v, ok := t.live.Get(runID)
	if !ok {
		return nil, false
	}
	return v.(*executor.Execution), true
}

// KillAll terminates every live execution. Used on shutdown so the
// streams end with a result event before the process exits.
func (t *Tracker) KillAll() int {
	killed := 0
	for runID, v := range t.live.Items() {
		if err := v.(*executor.Execution).Kill(); err != nil {
			log.Errorf("kill run[%s] failed: %v", runID, err)
			continue
		}
		killed++
	}
	return killed
}

func (t *Tracker) Record(sum RunSummary) {
	if err := t.history.Set(sum.RunID, sum); err != nil {
		log.Errorf("record run[%s] in history failed: %v", sum.RunID, err)
	}
}

// History lists retained summaries, newest first.
func (t *Tracker) History() []RunSummary {
	all := t.history.GetALL(false)
	out := make([]RunSummary, 0, len(all))
	for _, v := range all {
		out = append(out, v.(RunSummary))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// LiveRunCount implements metrics.LiveStats.
func (t *Tracker) LiveRunCount() int {
	return t.live.Count()
}

// HistoryCount implements metrics.LiveStats.
func (t *Tracker) HistoryCount() int {
	return t.history.Len(false)
}
