package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/PaddlePaddle/PaddlePulse/cmd/pulse/flag"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/config"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
	"github.com/PaddlePaddle/PaddlePulse/pkg/detector"
	"github.com/PaddlePaddle/PaddlePulse/pkg/invoke"
	"github.com/PaddlePaddle/PaddlePulse/pkg/node"
	"github.com/PaddlePaddle/PaddlePulse/pkg/report"
	"github.com/PaddlePaddle/PaddlePulse/pkg/schedule"
	"github.com/PaddlePaddle/PaddlePulse/pkg/version"
)

var PulseConf *config.PulseConfig

func main() {
	if err := Main(os.Args); err != nil {
		gracefullyExit(err)
	}
}

func Main(args []string) error {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "version of PaddlePulse",
		Value: false,
	}

	if err := initConfig(); err != nil {
		return err
	}

	compoundFlags := [][]cli.Flag{
		flag.DiscoveryFlags(&PulseConf.Discovery),
		flag.SweepFlags(&PulseConf.Sweep),
		flag.OutputFlags(&PulseConf.Output),
		logger.LogFlags(&PulseConf.Log),
	}

	app := &cli.App{
		Name:                 "paddlepulse",
		Usage:                "pairwise connectivity sweeps over the GPU nodes of a cluster",
		ArgsUsage:            "[daemon address ...]",
		Version:              version.InfoStr(),
		Copyright:            "Apache License 2.0",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags:                flag.ExpandFlags(compoundFlags),
		Action:               act,
	}
	return app.Run(args)
}

func act(c *cli.Context) error {
	if err := setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if PulseConf.Output.Cron != "" {
		return runPeriodic(ctx, c.Args().Slice())
	}

	rep, err := sweep(ctx, c.Args().Slice())
	if err != nil {
		return err
	}
	if !rep.Succeeded() {
		return cli.Exit(fmt.Sprintf("connectivity check failed: %d of %d pairs failed",
			rep.Summary.FailedPairs, rep.Summary.TotalPairs), 1)
	}
	return nil
}

// runPeriodic keeps sweeping on the cron schedule until interrupted.
// Failed pairs are logged and archived but never stop the loop; only
// the operator does.
func runPeriodic(ctx context.Context, args []string) error {
	cronSched, err := cron.ParseStandard(PulseConf.Output.Cron)
	if err != nil {
		return fmt.Errorf("bad cron spec %q: %v", PulseConf.Output.Cron, err)
	}

	log.Infof("periodic sweeps on cron spec %q, interrupt to stop", PulseConf.Output.Cron)
	for {
		next := cronSched.Next(time.Now())
		log.Infof("next sweep at %s", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			log.Info("periodic sweeps stopped")
			return nil
		case <-time.After(time.Until(next)):
		}

		rep, err := sweep(ctx, args)
		switch {
		case err != nil && ctx.Err() != nil:
			log.Info("sweep interrupted, stopping")
			return nil
		case err != nil:
			log.Errorf("sweep failed: %v", err)
		case !rep.Succeeded():
			log.Errorf("connectivity degraded: %d of %d pairs failed",
				rep.Summary.FailedPairs, rep.Summary.TotalPairs)
		}
	}
}

// sweep resolves the node set, runs one full sweep and emits the report.
// The report file is written even for a canceled sweep so partial results
// are not lost; archive upload and shutdown broadcast only happen for
// completed ones.
func sweep(ctx context.Context, args []string) (*report.Report, error) {
	nodes, err := resolveNodes(ctx, args)
	if err != nil {
		return nil, err
	}

	sweepConf := &PulseConf.Sweep
	scriptArgs, err := shlex.Split(sweepConf.ScriptArgs)
	if err != nil {
		return nil, fmt.Errorf("split script args %q failed: %v", sweepConf.ScriptArgs, err)
	}

	cfg := schedule.Config{
		Executor:       schema.ExecutorType(sweepConf.Executor),
		Script:         sweepConf.Script,
		ScriptArgs:     scriptArgs,
		Runs:           sweepConf.Runs,
		Retries:        sweepConf.Retries,
		AttemptTimeout: sweepConf.AttemptTimeout(),
		Ports:          schedule.PortRange{Lo: sweepConf.PortLo, Hi: sweepConf.PortHi},
		Concurrency:    sweepConf.Concurrency,
		Shuffle:        sweepConf.Shuffle,
		Seed:           sweepConf.Seed,
		Quiet:          PulseConf.Output.Quiet,
		Note:           sweepConf.Note,
	}

	// The per-attempt deadline lives in the sweeper's context, so the
	// stream client carries no timeout of its own.
	sweeper := schedule.NewSweeper(cfg, invoke.New(0), detector.Default())
	rep, runErr := sweeper.Run(ctx, nodes)
	if rep != nil {
		writeReportFile(rep)
		logSummary(rep)
	}
	if runErr != nil {
		return rep, runErr
	}

	uploadReport(ctx, rep)
	if PulseConf.Output.Shutdown {
		broadcastShutdown(ctx, nodes)
	}
	return rep, nil
}

// resolveNodes builds the sweep's node list. A static nodes file wins,
// otherwise hostfile entries plus positional addresses are gathered live.
func resolveNodes(ctx context.Context, args []string) (node.List, error) {
	disConf := &PulseConf.Discovery
	if disConf.NodesFile != "" {
		nodes, err := node.LoadFile(disConf.NodesFile)
		if err != nil {
			return nil, err
		}
		log.Infof("loaded %d nodes from %s", len(nodes), disConf.NodesFile)
		return nodes, nil
	}

	var hosts []node.HostSpec
	if disConf.Hostfile != "" {
		parsed, err := node.ParseHostfile(disConf.Hostfile, disConf.DaemonPort)
		if err != nil {
			return nil, err
		}
		hosts = parsed
	}
	for _, arg := range args {
		hosts = append(hosts, node.HostSpec{Addr: node.NormalizeAddr(arg, disConf.DaemonPort)})
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no daemons to sweep, give --nodes, --hostfile or daemon addresses")
	}

	nodes, err := node.GatherHTTP(ctx, node.Addrs(hosts), disConf.GatherTimeout())
	if err != nil {
		return nil, err
	}
	applySlots(nodes, hosts)
	log.Infof("gathered %d nodes with %d ranks", len(nodes), nodes.TotalRanks())
	return nodes, nil
}

// applySlots lets hostfile slots override the ranks a daemon reported,
// for clusters where the probe sees fewer GPUs than the operator wants
// exercised. Gather keeps host order, so entries line up by index.
func applySlots(nodes node.List, hosts []node.HostSpec) {
	for i := range hosts {
		if i >= len(nodes) || hosts[i].Slots <= 0 {
			continue
		}
		if len(nodes[i].Ranks) != hosts[i].Slots {
			log.Warnf("node %s reported %d ranks, hostfile slots=%d wins",
				nodes[i].Name, len(nodes[i].Ranks), hosts[i].Slots)
		}
		ranks := make([]int, hosts[i].Slots)
		for r := range ranks {
			ranks[r] = r
		}
		nodes[i].Ranks = ranks
	}
}

func writeReportFile(rep *report.Report) {
	path := PulseConf.Output.Path
	if path == "" {
		return
	}
	if err := rep.WriteFile(path); err != nil {
		log.Errorf("write report %s failed: %v", path, err)
		return
	}
	log.Infof("report written to %s", path)
}

func uploadReport(ctx context.Context, rep *report.Report) {
	s3Conf := &PulseConf.Output.S3
	sink := &report.S3Sink{
		Endpoint:  s3Conf.Endpoint,
		Region:    s3Conf.Region,
		Bucket:    s3Conf.Bucket,
		KeyPrefix: s3Conf.KeyPrefix,
		AccessKey: s3Conf.AccessKey,
		SecretKey: s3Conf.SecretKey,
	}
	if !sink.Enabled() {
		return
	}
	key, err := sink.Upload(ctx, rep)
	if err != nil {
		log.Errorf("archive report failed: %v", err)
		return
	}
	log.Infof("report archived to s3://%s/%s", sink.Bucket, key)
}

func logSummary(rep *report.Report) {
	for _, p := range rep.FailedPairs() {
		log.Errorf("pair %d %s/gpu%d <-> %s/gpu%d failed on attempt %d: %s",
			p.PairID, p.NodeA, p.LocalA, p.NodeB, p.LocalB, p.Attempt, pairFailure(&p))
	}
	s := rep.Summary
	log.Infof("sweep finished: %d pairs in %d rounds, %d failed, took %dms",
		s.TotalPairs, s.Rounds, s.FailedPairs, s.DurationInMilliseconds)
}

// pairFailure picks the most telling reason out of a failed pair: the
// pair-level error first, then per-side errors and detector hits.
func pairFailure(p *report.PairResult) string {
	if p.Error != "" {
		return p.Error
	}
	for _, r := range []*invoke.NodeResult{p.LeftResult, p.RightResult} {
		if r == nil || !r.Failed() {
			continue
		}
		switch {
		case len(r.DetectedErrors) > 0:
			return fmt.Sprintf("node_rank %d: %s", r.NodeRank, strings.Join(r.DetectedErrors, ","))
		case r.Error != "":
			return fmt.Sprintf("node_rank %d: %s", r.NodeRank, r.Error)
		case r.ParseWarning != "":
			return fmt.Sprintf("node_rank %d: %s", r.NodeRank, r.ParseWarning)
		}
	}
	return "task failed"
}

func broadcastShutdown(ctx context.Context, nodes node.List) {
	client := invoke.New(0)
	for i := range nodes {
		addr := nodes[i].Addr()
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := client.Shutdown(callCtx, addr)
		cancel()
		if err != nil {
			log.Errorf("shutdown %s failed: %v", addr, err)
			continue
		}
		log.Infof("daemon %s shutting down", addr)
	}
}

func initConfig() error {
	conf, err := config.LoadPulseConfig("")
	if err != nil {
		return fmt.Errorf("load config failed: %v", err)
	}
	PulseConf = conf
	config.GlobalPulseConfig = conf
	return nil
}

func setup() error {
	if err := logger.InitStandardFileLogger(&PulseConf.Log); err != nil {
		return fmt.Errorf("init logger failed: %v", err)
	}
	log.Infof("The final pulse config is: %s", config.PrettyFormat(PulseConf))

	executor := schema.ExecutorType(PulseConf.Sweep.Executor)
	switch executor {
	case "", schema.ExecutorTypePingpong:
	case schema.ExecutorTypeShell, schema.ExecutorTypeTorchrun:
		if PulseConf.Sweep.Script == "" {
			return fmt.Errorf("--script is required for the %s executor", executor)
		}
	default:
		return fmt.Errorf("unknown executor %q, want shell, torchrun or pingpong", executor)
	}
	return nil
}

func gracefullyExit(err error) {
	fmt.Println(err)
	os.Exit(22)
}
