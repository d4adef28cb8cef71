package flag

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/config"
)

func TestDiscoveryFlags(t *testing.T) {
	type args struct {
		disConf *config.DiscoveryConfig
	}
	tests := []struct {
		name string
		args args
		want int
	}{
		{
			name: "test1",
			args: args{
				disConf: &config.DiscoveryConfig{},
			},
			want: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DiscoveryFlags(tt.args.disConf); !reflect.DeepEqual(len(got), tt.want) {
				t.Errorf("DiscoveryFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandFlags(t *testing.T) {
	conf := config.NewDefaultPulseConfig()
	compoundFlags := [][]cli.Flag{
		DiscoveryFlags(&conf.Discovery),
		SweepFlags(&conf.Sweep),
		OutputFlags(&conf.Output),
	}
	want := 0
	for _, flags := range compoundFlags {
		want += len(flags)
	}
	if got := ExpandFlags(compoundFlags); len(got) != want {
		t.Errorf("ExpandFlags() = %v flags, want %v", len(got), want)
	}
}

func TestFlagDestinations(t *testing.T) {
	conf := config.NewDefaultPulseConfig()
	app := &cli.App{
		Flags: ExpandFlags([][]cli.Flag{
			DiscoveryFlags(&conf.Discovery),
			SweepFlags(&conf.Sweep),
			OutputFlags(&conf.Output),
		}),
		Action: func(c *cli.Context) error { return nil },
	}

	err := app.Run([]string{"paddlepulse",
		"--hostfile", "hosts.txt",
		"--executor", "torchrun",
		"--script", "/opt/bench/allreduce.py",
		"--retries", "5",
		"--shuffle",
		"--seed", "42",
		"--s3-bucket", "pulse-reports",
	})
	assert.Nil(t, err)

	assert.Equal(t, "hosts.txt", conf.Discovery.Hostfile)
	assert.Equal(t, "torchrun", conf.Sweep.Executor)
	assert.Equal(t, "/opt/bench/allreduce.py", conf.Sweep.Script)
	assert.Equal(t, 5, conf.Sweep.Retries)
	assert.True(t, conf.Sweep.Shuffle)
	assert.Equal(t, int64(42), conf.Sweep.Seed)
	assert.Equal(t, "pulse-reports", conf.Output.S3.Bucket)

	// flags left off the command line keep the config defaults
	assert.Equal(t, 8866, conf.Discovery.DaemonPort)
	assert.Equal(t, 20000, conf.Sweep.PortLo)
	assert.Equal(t, "pulse-report.json", conf.Output.Path)
}
