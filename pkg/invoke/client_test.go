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

package invoke

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
	"github.com/PaddlePaddle/PaddlePulse/pkg/detector"
	"github.com/PaddlePaddle/PaddlePulse/pkg/sse"
)

func resultData(t *testing.T, payload schema.ResultPayload) string {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

// streamServer serves one canned event stream on the task route and
// records the JobSpec it received.
func streamServer(t *testing.T, events []schema.Event) (*httptest.Server, *schema.JobSpec) {
	received := &schema.JobSpec{}
	mux := http.NewServeMux()
	mux.HandleFunc(schema.APIPath(schema.PathRunTaskSSE), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(received))
		w.Header().Set("Content-Type", sse.ContentType)
		sw := sse.NewWriter(w)
		for _, ev := range events {
			require.NoError(t, sw.WriteEvent(ev))
		}
	})
	return httptest.NewServer(mux), received
}

func hostOf(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestInvokeNodeSuccess(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventLog, Data: "first line\nsecond line"},
		{Kind: schema.EventHeartbeat, Data: time.Now().UTC().Format(time.RFC3339)},
		{Kind: schema.EventResult, Data: resultData(t, schema.ResultPayload{NodeRank: 1, Success: true})},
	}
	ts, received := streamServer(t, events)
	defer ts.Close()

	spec := schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo", NodeRank: 1}
	res := New(0).InvokeNode(context.Background(), hostOf(ts), spec, detector.Noop{})
	assert.True(t, res.Success)
	assert.False(t, res.Transport)
	assert.Equal(t, 1, res.NodeRank)
	assert.Equal(t, 1, res.CompletedRuns)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.ParseWarning)
	assert.Equal(t, hostOf(ts), res.Addr)
	assert.Equal(t, spec, *received)
}

func TestInvokeNodeTaskFailure(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventResult, Data: resultData(t, schema.ResultPayload{NodeRank: 0, Success: false, Error: "exit status 1"})},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "false"}, nil)
	assert.False(t, res.Success)
	assert.False(t, res.Transport, "task failure must not look retryable")
	assert.Equal(t, "exit status 1", res.Error)
}

func TestInvokeNodeConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := hostOf(ts)
	ts.Close()

	spec := schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo"}
	res := New(time.Second).InvokeNode(context.Background(), addr, spec, nil)
	assert.False(t, res.Success)
	assert.True(t, res.Transport)
	assert.Contains(t, res.Error, "connect")
	assert.Equal(t, spec, res.Spec, "the record stays self-describing even when nothing was reached")
}

func TestInvokeNodeHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "executor type unknown", http.StatusBadRequest)
	}))
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: "mpirun", Script: "echo"}, nil)
	assert.False(t, res.Success)
	assert.True(t, res.Transport)
	assert.Contains(t, res.Error, "HTTP 400")
	assert.Contains(t, res.Error, "executor type unknown")
}

func TestInvokeNodeTruncatedStream(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventLog, Data: "and then the daemon died"},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo"}, nil)
	assert.False(t, res.Success)
	assert.True(t, res.Transport)
	assert.Contains(t, res.Error, "without a result")
}

func TestInvokeNodeGarbledResult(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventResult, Data: "%%% not json %%%"},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo"}, nil)
	assert.False(t, res.Success, "garbled verdict must fail closed")
	assert.False(t, res.Transport, "a parse problem is not worth a retry")
	assert.Contains(t, res.ParseWarning, "unparseable")
}

func TestInvokeNodeMissingSuccessField(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventResult, Data: `{"node_rank": 2, "error": ""}`},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo"}, nil)
	assert.False(t, res.Success)
	assert.False(t, res.Transport)
	assert.Contains(t, res.ParseWarning, "missing success")
	assert.Equal(t, 2, res.NodeRank, "salvageable fields still decode")
}

func TestInvokeNodeWeaklyTypedResult(t *testing.T) {
	// Wrapper scripts written in shell tend to emit "true" as a string.
	events := []schema.Event{
		{Kind: schema.EventResult, Data: `{"node_rank": "1", "success": "true"}`},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo"}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.NodeRank)
	assert.Empty(t, res.ParseWarning)
}

func TestInvokeNodeMultiRun(t *testing.T) {
	ok := resultData(t, schema.ResultPayload{Success: true})
	failed := resultData(t, schema.ResultPayload{Success: false, Error: "exit status 7"})
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-1"},
		{Kind: schema.EventResult, Data: ok},
		{Kind: schema.EventStart, Data: "run-2"},
		{Kind: schema.EventResult, Data: failed},
		{Kind: schema.EventStart, Data: "run-3"},
		{Kind: schema.EventResult, Data: ok},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "echo", Runs: 3}, nil)
	assert.False(t, res.Success, "one failed run fails the invocation")
	assert.Equal(t, 3, res.CompletedRuns)
	assert.Equal(t, "exit status 7", res.Error)
}

func TestInvokeNodeDetectorCollects(t *testing.T) {
	events := []schema.Event{
		{Kind: schema.EventStart, Data: "run-abc"},
		{Kind: schema.EventLog, Data: "node0:123 [0] NCCL WARN Connect failed"},
		{Kind: schema.EventLog, Data: "node0:123 [0] NCCL WARN Connect failed"},
		{Kind: schema.EventLog, Data: "RuntimeError: CUDA error: device-side assert triggered"},
		{Kind: schema.EventResult, Data: resultData(t, schema.ResultPayload{Success: false, Error: "exit status 1"})},
	}
	ts, _ := streamServer(t, events)
	defer ts.Close()

	res := New(0).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "train"}, detector.Default())
	assert.Equal(t, []string{"nccl_error", "cuda_error"}, res.DetectedErrors)
}

func TestInvokeNodeTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", sse.ContentType)
		sw := sse.NewWriter(w)
		_ = sw.WriteEvent(schema.Event{Kind: schema.EventStart, Data: "run-abc"})
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	start := time.Now()
	res := New(150 * time.Millisecond).InvokeNode(context.Background(), hostOf(ts),
		schema.JobSpec{ExecutorType: schema.ExecutorTypeShell, Script: "sleep 60"}, nil)
	assert.False(t, res.Success)
	assert.True(t, res.Transport)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShutdown(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(schema.APIPath(schema.PathShutdown), func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(schema.ShutdownResponse{Success: true, Message: "draining 0 runs"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	require.NoError(t, New(time.Second).Shutdown(context.Background(), hostOf(ts)))
	assert.Equal(t, 1, calls)
}

func TestShutdownRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(schema.ShutdownResponse{Success: false, Message: "not yet"})
	}))
	defer ts.Close()

	err := New(time.Second).Shutdown(context.Background(), hostOf(ts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
