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
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

func TestEncodeFormat(t *testing.T) {
	ev := schema.Event{Kind: schema.EventLog, Data: "hello"}
	assert.Equal(t, "event: log\ndata: hello\n\n", string(Encode(ev)))

	ev = schema.Event{Kind: schema.EventResult, Data: "line1\nline2"}
	assert.Equal(t, "event: result\ndata: line1\ndata: line2\n\n", string(Encode(ev)))
}

func TestRoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"single",
		"first\nsecond\nthird",
		"keeps\n\ninterior blanks",
		"  two leading spaces survive",
		" one leading space survives too",
		"trailing newline\n",
		"{\"node_rank\":0,\"success\":true,\"error\":\"\"}",
	}
	for i, payload := range payloads {
		in := schema.Event{Kind: schema.EventLog, Data: payload}
		var got []schema.Event
		err := Read(context.Background(), bytes.NewReader(Encode(in)), func(ev schema.Event) error {
			got = append(got, ev)
			return nil
		})
		require.NoError(t, err, "payload %d", i)
		require.Len(t, got, 1, "payload %d", i)
		assert.Equal(t, in, got[0], "payload %d", i)
	}
}

func TestWriterStream(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-1"},
		{Kind: schema.EventLog, Data: "out line"},
		{Kind: schema.EventHeartbeat, Data: "2023-06-01T00:00:00Z"},
		{Kind: schema.EventResult, Data: `{"node_rank":1,"success":false,"error":"exit status 1"}`},
	}
	for _, ev := range events {
		require.NoError(t, w.WriteEvent(ev))
	}

	var got []schema.Event
	err := Read(context.Background(), buf, func(ev schema.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestWriterClosed(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	w.Close()
	assert.Error(t, w.WriteEvent(schema.Event{Kind: schema.EventLog, Data: "late"}))
}

func TestReadUnknownEventKind(t *testing.T) {
	raw := "event: trace\ndata: something new\n\n"
	var got []schema.Event
	err := Read(context.Background(), bytes.NewReader([]byte(raw)), func(ev schema.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.EventUnknown, got[0].Kind)
	assert.Equal(t, "something new", got[0].Data)
}

func TestReadTruncatedStreamDeliversLastEvent(t *testing.T) {
	// No trailing blank line: the connection died mid-event.
	raw := "event: log\ndata: partial\n"
	var got []schema.Event
	err := Read(context.Background(), bytes.NewReader([]byte(raw)), func(ev schema.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.EventLog, got[0].Kind)
	assert.Equal(t, "partial", got[0].Data)
}

func TestReadSkipsComments(t *testing.T) {
	raw := ": keep-alive\nevent: log\ndata: real\n\n"
	var got []schema.Event
	err := Read(context.Background(), bytes.NewReader([]byte(raw)), func(ev schema.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "real", got[0].Data)
}

func TestReadHandlerErrorStops(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteEvent(schema.Event{Kind: schema.EventLog, Data: fmt.Sprintf("line %d", i)}))
	}
	seen := 0
	err := Read(context.Background(), buf, func(ev schema.Event) error {
		seen++
		return fmt.Errorf("stop here")
	})
	assert.EqualError(t, err, "stop here")
	assert.Equal(t, 1, seen)
}

func TestReadCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw := Encode(schema.Event{Kind: schema.EventLog, Data: "never seen"})
	err := Read(ctx, bytes.NewReader(raw), func(ev schema.Event) error {
		t.Fatal("handler should not run after cancel")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
