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

package utils

import (
	"io/ioutil"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// NewDynProgressBar builds a progress bar on stderr. Output is discarded
// when quiet is set or stderr is not a terminal, so batch runs and CI logs
// stay clean.
func NewDynProgressBar(title string, quiet bool, total int64) (*mpb.Progress, *mpb.Bar) {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		quiet = true
	}
	out := mpb.WithOutput(os.Stderr)
	if quiet {
		out = mpb.WithOutput(ioutil.Discard)
	}
	progress := mpb.New(out, mpb.WithWidth(64))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(title),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return progress, bar
}
