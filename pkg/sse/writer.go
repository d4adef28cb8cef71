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

// Package sse implements the task stream wire format: one-directional
// Server-Sent Events over HTTP. Each message is an `event:` line followed
// by one `data:` line per payload line and a terminating blank line, so a
// multi-line payload survives the trip as consecutive data lines.
package sse

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

const ContentType = "text/event-stream"

// Encode renders one event. Split and rejoin by newline are exact
// inverses, so Decode(Encode(ev)) == ev for any payload.
func Encode(ev schema.Event) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "event: %s\n", ev.Kind)
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Writer serializes events onto one HTTP response. Safe for concurrent
// use; every event is flushed immediately so the client sees heartbeats
// in real time.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	written int64
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

func (sw *Writer) WriteEvent(ev schema.Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("sse writer is closed")
	}
	n, err := sw.w.Write(Encode(ev))
	sw.written += int64(n)
	if err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Written reports the bytes put on the wire so far.
func (sw *Writer) Written() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written
}

// Close marks the writer finished; later writes fail instead of racing a
// handler that already returned.
func (sw *Writer) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
}
