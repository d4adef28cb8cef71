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

package config

import (
	"time"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
)

var (
	// GlobalDaemonConfig is the config of the worker daemon process
	GlobalDaemonConfig *DaemonConfig

	daemonDefaultConfPath = "./config/daemon/default/pulsedaemon.yaml"
)

type DaemonConfig struct {
	Server ServerConfig     `yaml:"server"`
	Node   NodeConfig       `yaml:"node"`
	Task   TaskConfig       `yaml:"task"`
	Log    logger.LogConfig `yaml:"log"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metricsPort"`
}

type NodeConfig struct {
	// Ranks lists the local rank ids this node exposes for pairwise tests,
	// one per GPU. Empty means a single rank 0.
	Ranks []int `yaml:"ranks,flow"`
}

type TaskConfig struct {
	// heartbeat cadence of the event stream while the subprocess is silent
	HeartbeatIntervalInMilliseconds int `yaml:"heartbeatIntervalInMilliseconds"`
	// number of finished runs kept in the in-memory history
	HistorySize int `yaml:"historySize"`
	// PingpongScript is the point-to-point payload launched for pingpong tasks
	// when the request does not carry its own script path.
	PingpongScript string `yaml:"pingpongScript"`
}

func (t *TaskConfig) HeartbeatInterval() time.Duration {
	if t.HeartbeatIntervalInMilliseconds <= 0 {
		return time.Second
	}
	return time.Duration(t.HeartbeatIntervalInMilliseconds) * time.Millisecond
}

// LoadDaemonConfig builds the daemon config: built-in defaults, then
// the yaml at configPath layered on top. An empty configPath falls back
// to the default path when that file exists and to plain defaults when
// it does not, so a daemon can start with no config file at all.
func LoadDaemonConfig(configPath string) (*DaemonConfig, error) {
	conf := NewDefaultDaemonConfig()
	if configPath == "" {
		if ok, _ := PathExists(daemonDefaultConfPath); !ok {
			return conf, nil
		}
		configPath = daemonDefaultConfPath
	}
	if err := InitConfigFromYaml(conf, configPath); err != nil {
		return nil, err
	}
	return conf, nil
}

// NewDefaultDaemonConfig fills the fields a daemon can run with when no
// config file is present.
func NewDefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8866,
			MetricsPort: 8867,
		},
		Node: NodeConfig{},
		Task: TaskConfig{
			HeartbeatIntervalInMilliseconds: 1000,
			HistorySize:                     128,
			PingpongScript:                  "./bench/pingpong.py",
		},
		Log: logger.LogConfig{
			Dir:             "./log",
			FilePrefix:      "pulse-daemon-{HOSTNAME}",
			Level:           "INFO",
			MaxKeepDays:     90,
			MaxFileNum:      100,
			MaxFileSizeInMB: 200,
			IsCompress:      true,
		},
	}
}
