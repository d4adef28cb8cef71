package flag

import (
	"github.com/urfave/cli/v2"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/config"
)

func DiscoveryFlags(disConf *config.DiscoveryConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "hostfile",
			Value:       disConf.Hostfile,
			Usage:       "MPI-style hostfile, one 'host[:port] [slots=N]' per line",
			Destination: &disConf.Hostfile,
		},
		&cli.StringFlag{
			Name:        "nodes",
			Value:       disConf.NodesFile,
			Usage:       "static node list file (yaml or json), skips live discovery",
			Destination: &disConf.NodesFile,
		},
		&cli.IntFlag{
			Name:        "daemon-port",
			Value:       disConf.DaemonPort,
			Usage:       "default daemon port for addresses given without one",
			Destination: &disConf.DaemonPort,
		},
		&cli.IntFlag{
			Name:        "gather-timeout-in-seconds",
			Value:       disConf.GatherTimeoutInSeconds,
			Usage:       "timeout for gathering node info from the daemons",
			Destination: &disConf.GatherTimeoutInSeconds,
		},
	}
}

func SweepFlags(sweepConf *config.SweepConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "executor",
			Value:       sweepConf.Executor,
			Usage:       "payload executor, one of shell/torchrun/pingpong",
			Destination: &sweepConf.Executor,
		},
		&cli.StringFlag{
			Name:        "script",
			Value:       sweepConf.Script,
			Usage:       "payload script path on the nodes, empty uses the daemon default",
			Destination: &sweepConf.Script,
		},
		&cli.StringFlag{
			Name:        "script-args",
			Value:       sweepConf.ScriptArgs,
			Usage:       "extra script arguments, split with shell quoting rules",
			Destination: &sweepConf.ScriptArgs,
		},
		&cli.IntFlag{
			Name:        "runs",
			Value:       sweepConf.Runs,
			Usage:       "payload runs per pair attempt",
			Destination: &sweepConf.Runs,
		},
		&cli.IntFlag{
			Name:        "retries",
			Value:       sweepConf.Retries,
			Usage:       "extra attempts per pair on transport failures",
			Destination: &sweepConf.Retries,
		},
		&cli.IntFlag{
			Name:        "timeout-in-seconds",
			Value:       sweepConf.AttemptTimeoutInSeconds,
			Usage:       "timeout of one pair attempt, both sides included",
			Destination: &sweepConf.AttemptTimeoutInSeconds,
		},
		&cli.IntFlag{
			Name:        "port-lo",
			Value:       sweepConf.PortLo,
			Usage:       "low end of the rendezvous port range, inclusive",
			Destination: &sweepConf.PortLo,
		},
		&cli.IntFlag{
			Name:        "port-hi",
			Value:       sweepConf.PortHi,
			Usage:       "high end of the rendezvous port range, inclusive",
			Destination: &sweepConf.PortHi,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Value:       sweepConf.Concurrency,
			Usage:       "cap on in-flight pairs within a round, 0 runs the whole round at once",
			Destination: &sweepConf.Concurrency,
		},
		&cli.BoolFlag{
			Name:        "shuffle",
			Value:       sweepConf.Shuffle,
			Usage:       "randomize pair placement across rounds",
			Destination: &sweepConf.Shuffle,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Value:       sweepConf.Seed,
			Usage:       "seed for shuffle and port draws, 0 seeds from the clock",
			Destination: &sweepConf.Seed,
		},
		&cli.StringFlag{
			Name:        "note",
			Value:       sweepConf.Note,
			Usage:       "operator annotation carried into the report summary",
			Destination: &sweepConf.Note,
		},
	}
}

func OutputFlags(outConf *config.OutputConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Value:       outConf.Path,
			Usage:       "report file path, empty skips the file",
			Destination: &outConf.Path,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Value:       outConf.Quiet,
			Usage:       "suppress the per-round progress bar",
			Destination: &outConf.Quiet,
		},
		&cli.StringFlag{
			Name:        "cron",
			Value:       outConf.Cron,
			Usage:       "run sweeps periodically on a standard cron spec, e.g. '*/30 * * * *'",
			Destination: &outConf.Cron,
		},
		&cli.BoolFlag{
			Name:        "shutdown",
			Value:       outConf.Shutdown,
			Usage:       "broadcast shutdown to every daemon after the sweep",
			Destination: &outConf.Shutdown,
		},
		&cli.StringFlag{
			Name:        "s3-endpoint",
			Value:       outConf.S3.Endpoint,
			Usage:       "endpoint of the s3-compatible report archive",
			Destination: &outConf.S3.Endpoint,
		},
		&cli.StringFlag{
			Name:        "s3-region",
			Value:       outConf.S3.Region,
			Usage:       "region of the report archive",
			Destination: &outConf.S3.Region,
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Value:       outConf.S3.Bucket,
			Usage:       "bucket of the report archive, empty disables archiving",
			Destination: &outConf.S3.Bucket,
		},
		&cli.StringFlag{
			Name:        "s3-key-prefix",
			Value:       outConf.S3.KeyPrefix,
			Usage:       "key prefix of archived reports",
			Destination: &outConf.S3.KeyPrefix,
		},
		&cli.StringFlag{
			Name:        "s3-access-key",
			Value:       outConf.S3.AccessKey,
			Usage:       "access key of the report archive",
			Destination: &outConf.S3.AccessKey,
		},
		&cli.StringFlag{
			Name:        "s3-secret-key",
			Value:       outConf.S3.SecretKey,
			Usage:       "secret key of the report archive",
			Destination: &outConf.S3.SecretKey,
		},
	}
}

func ExpandFlags(compoundFlags [][]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, flag := range compoundFlags {
		flags = append(flags, flag...)
	}
	return flags
}
