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
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMetricPort = 8867
)

var (
	registry *prometheus.Registry
)

var (
	// TaskRunsTotal counts finished subprocess runs by executor type and status.
	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_task_runs_total",
			Help: "Finished task runs on this daemon, labeled by executor and status.",
		},
		[]string{"executor", "status"},
	)
	// TaskEventsTotal counts stream events written to clients by kind.
	TaskEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_task_events_total",
			Help: "Task stream events written to clients, labeled by event kind.",
		},
		[]string{"kind"},
	)
	// TaskRunSeconds observes wall time of one subprocess run.
	TaskRunSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_task_run_seconds",
			Help:    "Wall time of one task subprocess run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	// TaskEventBytesTotal counts stream bytes written to clients.
	TaskEventBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_task_event_bytes_total",
			Help: "Task stream bytes written to clients.",
		},
	)
)

func initRegistry(stats LiveStats) {
	registry = prometheus.NewRegistry()
	registry.MustRegister(TaskRunsTotal, TaskEventsTotal, TaskRunSeconds, TaskEventBytesTotal)
	if stats != nil {
		registry.MustRegister(NewDaemonCollector(stats))
	}
}

func StartMetricsService(port int, stats LiveStats) string {
	initRegistry(stats)
	if port == 0 {
		port = DefaultMetricPort
	}
	if port < 1000 {
		panic("metric port cannot below 1000")
	}
	mx := http.NewServeMux()
	mx.Handle("/metrics", promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support metric.
			EnableOpenMetrics: true,
		},
	))
	metricsAddr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(metricsAddr, mx); err != nil {
			log.Errorf("metrics listenAndServe error: %s", err)
		}
	}()

	log.Infof("metrics listening on %s", metricsAddr)
	return metricsAddr
}
