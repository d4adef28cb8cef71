package utils

import (
	"github.com/stretchr/testify/assert"
	"github.com/vbauerster/mpb/v7"
	"testing"
)

func TestNewDynProgressBar(t *testing.T) {
	type args struct {
		title string
		quiet bool
		total int64
	}
	tests := []struct {
		name  string
		args  args
		want  *mpb.Progress
		want1 *mpb.Bar
	}{
		{
			name: "not empty",
			args: args{
				title: "x",
				total: 10,
			},
		},
		{
			name: "quiet bar still usable",
			args: args{
				title: "y",
				quiet: true,
				total: 3,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, got1 := NewDynProgressBar(tt.args.title, tt.args.quiet, tt.args.total)
			assert.NotNil(t, got)
			assert.NotNil(t, got1)
			for i := int64(0); i < tt.args.total; i++ {
				got1.Increment()
			}
			got.Wait()
		})
	}
}
