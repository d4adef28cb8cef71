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

package sse

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"

	// Payload lines can carry long tracebacks; keep the scanner roomy.
	maxLineSize = 1 << 20
)

// Read consumes events from r until EOF, the context is canceled, or fn
// returns an error. Unknown event names decode to schema.EventUnknown so
// old clients skip frames from newer daemons instead of failing.
func Read(ctx context.Context, r io.Reader, fn func(schema.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	kind := schema.EventUnknown
	dataLines := []string{}
	inEvent := false

	dispatch := func() error {
		if !inEvent {
			return nil
		}
		ev := schema.Event{Kind: kind, Data: strings.Join(dataLines, "\n")}
		kind = schema.EventUnknown
		dataLines = dataLines[:0]
		inEvent = false
		return fn(ev)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive filler
		case strings.HasPrefix(line, eventPrefix):
			kind = schema.ParseEventKind(strings.TrimSpace(line[len(eventPrefix):]))
			inEvent = true
		case strings.HasPrefix(line, dataPrefix):
			// Strip exactly one space after the colon. More than that
			// belongs to the payload and must round-trip untouched.
			d := line[len(dataPrefix):]
			d = strings.TrimPrefix(d, " ")
			dataLines = append(dataLines, d)
			inEvent = true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// Trailing event without a blank line still counts; a truncated
	// stream should not silently eat the final message.
	return dispatch()
}
