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

// Package detector classifies streamed task log lines. The invocation
// client feeds it every log event and collects the findings into the node
// result, so a pair that "succeeds" with NCCL warnings is still visible.
package detector

import "regexp"

// Detector flags one log line. The returned string names the finding;
// ok reports whether the line matched anything.
type Detector interface {
	Detect(line string) (string, bool)
}

// Noop matches nothing. Callers that do not classify pass this instead of
// nil checks at every call site.
type Noop struct{}

func (Noop) Detect(string) (string, bool) {
	return "", false
}

// Pattern is one named classification rule.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Regexp classifies lines against an ordered pattern list; the first match
// wins.
type Regexp struct {
	patterns []Pattern
}

func NewRegexp(patterns []Pattern) *Regexp {
	return &Regexp{patterns: patterns}
}

func (d *Regexp) Detect(line string) (string, bool) {
	for _, p := range d.patterns {
		if p.Re.MatchString(line) {
			return p.Name, true
		}
	}
	return "", false
}

// Default returns the stock GPU-cluster ruleset: collective-library and
// CUDA failures plus the transport errors that show up in torch elastic
// output when a peer is unreachable.
func Default() *Regexp {
	return NewRegexp([]Pattern{
		{Name: "nccl_error", Re: regexp.MustCompile(`(?i)NCCL (WARN|ERROR)`)},
		{Name: "rccl_error", Re: regexp.MustCompile(`(?i)RCCL (WARN|ERROR)`)},
		{Name: "cuda_error", Re: regexp.MustCompile(`(?i)CUDA (error|out of memory)`)},
		{Name: "ecc_error", Re: regexp.MustCompile(`(?i)uncorrectable ECC error`)},
		{Name: "watchdog_timeout", Re: regexp.MustCompile(`(?i)watchdog caught collective operation timeout`)},
		{Name: "connection_refused", Re: regexp.MustCompile(`(?i)connection refused`)},
		{Name: "connection_reset", Re: regexp.MustCompile(`(?i)connection reset by peer`)},
		{Name: "timeout", Re: regexp.MustCompile(`(?i)(timed out|timeout) `)},
		{Name: "segfault", Re: regexp.MustCompile(`(?i)segmentation fault`)},
	})
}
