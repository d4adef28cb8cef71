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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LiveStats is implemented by the daemon run tracker so the collector can
// sample live state at scrape time.
type LiveStats interface {
	LiveRunCount() int
	HistoryCount() int
}

type DaemonCollector struct {
	liveRuns    prometheus.Gauge
	historyRuns prometheus.Gauge
	stats       LiveStats
}

func NewDaemonCollector(stats LiveStats) *DaemonCollector {
	return &DaemonCollector{
		liveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_live_runs",
			Help: "Task runs currently streaming on this daemon.",
		}),
		historyRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_history_runs",
			Help: "Finished runs retained in the in-memory history.",
		}),
		stats: stats,
	}
}

func (d *DaemonCollector) Describe(descs chan<- *prometheus.Desc) {
	d.liveRuns.Describe(descs)
	d.historyRuns.Describe(descs)
}

func (d *DaemonCollector) Collect(metrics chan<- prometheus.Metric) {
	d.liveRuns.Set(float64(d.stats.LiveRunCount()))
	d.historyRuns.Set(float64(d.stats.HistoryCount()))
	d.liveRuns.Collect(metrics)
	d.historyRuns.Collect(metrics)
}
