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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/config"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/daemon"
	"github.com/PaddlePaddle/PaddlePulse/pkg/metrics"
	"github.com/PaddlePaddle/PaddlePulse/pkg/node"
	"github.com/PaddlePaddle/PaddlePulse/pkg/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		gracefullyExit(err)
	}
}

func run(args []string) error {
	configPath := preScanConfigPath(args)
	conf, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("pulse-daemon", pflag.ContinueOnError)
	showVersion := fs.BoolP("version", "V", false, "print version information and exit")
	fs.String("config", configPath, "path of the daemon config yaml")
	fs.StringVar(&conf.Server.Host, "host", conf.Server.Host, "address the daemon listens on")
	fs.IntVar(&conf.Server.Port, "port", conf.Server.Port, "port the daemon listens on")
	fs.IntVar(&conf.Server.MetricsPort, "metrics-port", conf.Server.MetricsPort, "port of the prometheus metrics endpoint")
	fs.IntSliceVar(&conf.Node.Ranks, "ranks", conf.Node.Ranks, "local rank ids this node exposes, one per GPU")
	fs.IntVar(&conf.Task.HeartbeatIntervalInMilliseconds, "heartbeat-interval-ms", conf.Task.HeartbeatIntervalInMilliseconds, "stream heartbeat cadence while the task is silent")
	fs.IntVar(&conf.Task.HistorySize, "history-size", conf.Task.HistorySize, "finished runs kept in memory for the runs endpoint")
	fs.StringVar(&conf.Task.PingpongScript, "pingpong-script", conf.Task.PingpongScript, "default payload script for pingpong tasks")
	logger.AddFlagSet(fs, &conf.Log)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.InfoStr())
		return nil
	}

	if err := logger.InitStandardFileLogger(&conf.Log); err != nil {
		return fmt.Errorf("init logger: %v", err)
	}
	config.GlobalDaemonConfig = conf
	log.Infof("the final daemon config is: %s", config.PrettyFormat(conf))

	self := node.Probe(conf.Server.Port, conf.Node.Ranks)
	log.Infof("probed node info: %s", config.PrettyFormat(self))

	d := daemon.New(conf, self)
	metrics.StartMetricsService(conf.Server.MetricsPort, d.Tracker())

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start()
	}()
	log.Infof("pulse daemon serving on %s", config.GetDaemonAddress())

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-stopSig:
		log.Infof("received %s, shutting down", sig)
		d.Stop()
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info("pulse daemon exiting")
	return nil
}

// preScanConfigPath extracts --config before the real parse, because the
// yaml it names provides the defaults the remaining flags override.
func preScanConfigPath(args []string) string {
	fs := pflag.NewFlagSet("config-prescan", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.String("config", "", "")
	_ = fs.Parse(args)
	return *path
}

func gracefullyExit(err error) {
	fmt.Println(err)
	os.Exit(22)
}
