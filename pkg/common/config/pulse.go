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
	// GlobalPulseConfig is the config of the sweep CLI process
	GlobalPulseConfig *PulseConfig

	pulseDefaultConfPath = "./config/pulse/default/paddlepulse.yaml"
)

type PulseConfig struct {
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Sweep     SweepConfig      `yaml:"sweep"`
	Output    OutputConfig     `yaml:"output"`
	Log       logger.LogConfig `yaml:"log"`
}

type DiscoveryConfig struct {
	// Hostfile is an MPI-style list of daemon addresses, one per line.
	Hostfile string `yaml:"hostfile"`
	// NodesFile is a static YAML/JSON node list, used instead of live
	// discovery for air-gapped runs.
	NodesFile string `yaml:"nodesFile"`
	// DaemonPort completes addresses given without a port.
	DaemonPort             int `yaml:"daemonPort"`
	GatherTimeoutInSeconds int `yaml:"gatherTimeoutInSeconds"`
}

func (d *DiscoveryConfig) GatherTimeout() time.Duration {
	if d.GatherTimeoutInSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.GatherTimeoutInSeconds) * time.Second
}

type SweepConfig struct {
	Executor string `yaml:"executor"`
	Script   string `yaml:"script"`
	// ScriptArgs is the raw argument string; the CLI splits it with shell
	// quoting rules before dispatch.
	ScriptArgs string `yaml:"scriptArgs"`
	Runs       int    `yaml:"runs"`
	// Retries is the number of extra attempts after the first when a pair
	// hits a transport failure.
	Retries                 int   `yaml:"retries"`
	AttemptTimeoutInSeconds int   `yaml:"attemptTimeoutInSeconds"`
	PortLo                  int   `yaml:"portLo"`
	PortHi                  int   `yaml:"portHi"`
	Concurrency             int   `yaml:"concurrency"`
	Shuffle                 bool  `yaml:"shuffle"`
	Seed                    int64 `yaml:"seed"`
	Note                    string `yaml:"note"`
}

func (s *SweepConfig) AttemptTimeout() time.Duration {
	if s.AttemptTimeoutInSeconds <= 0 {
		return 0
	}
	return time.Duration(s.AttemptTimeoutInSeconds) * time.Second
}

type OutputConfig struct {
	// Path of the report file; in periodic mode every sweep overwrites it
	// with the latest result.
	Path  string `yaml:"path"`
	Quiet bool   `yaml:"quiet"`
	// Cron switches to periodic sweeps on the given standard cron spec.
	Cron string `yaml:"cron"`
	// Shutdown broadcasts a shutdown to every daemon after the sweep.
	Shutdown bool     `yaml:"shutdown"`
	S3       S3Config `yaml:"s3"`
}

// S3Config feeds the report archive sink; an empty bucket disables it.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"keyPrefix"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// LoadPulseConfig builds the CLI config the same way LoadDaemonConfig
// builds the daemon's: defaults first, then the yaml layered on top when
// present.
func LoadPulseConfig(configPath string) (*PulseConfig, error) {
	conf := NewDefaultPulseConfig()
	if configPath == "" {
		if ok, _ := PathExists(pulseDefaultConfPath); !ok {
			return conf, nil
		}
		configPath = pulseDefaultConfPath
	}
	if err := InitConfigFromYaml(conf, configPath); err != nil {
		return nil, err
	}
	return conf, nil
}

func NewDefaultPulseConfig() *PulseConfig {
	return &PulseConfig{
		Discovery: DiscoveryConfig{
			DaemonPort:             8866,
			GatherTimeoutInSeconds: 10,
		},
		Sweep: SweepConfig{
			Executor:                "pingpong",
			Runs:                    1,
			Retries:                 2,
			AttemptTimeoutInSeconds: 600,
			PortLo:                  20000,
			PortHi:                  30000,
		},
		Output: OutputConfig{
			Path: "pulse-report.json",
		},
		Log: logger.LogConfig{
			Dir:             "./log",
			FilePrefix:      "paddlepulse",
			Level:           "INFO",
			MaxKeepDays:     90,
			MaxFileNum:      100,
			MaxFileSizeInMB: 200,
			IsCompress:      true,
		},
	}
}
