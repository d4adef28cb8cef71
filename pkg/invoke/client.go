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

// Package invoke dispatches tasks to worker daemons and folds every
// possible failure into the result. InvokeNode never returns an error:
// the sweep must keep going when a node is unreachable, and the caller
// decides from NodeResult.Transport whether a retry is worth it.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
	"github.com/PaddlePaddle/PaddlePulse/pkg/detector"
	"github.com/PaddlePaddle/PaddlePulse/pkg/sse"
)

const errorBodyLimit = 4 * 1024

// Client talks to worker daemons. The stream client carries no global
// timeout because a task stream legitimately lasts as long as the task;
// the per-call Timeout is enforced through the request context instead.
// Control calls go through a retrying client, which the task dispatch
// must never use: replaying a run_task_sse POST would double-launch the
// subprocess.
type Client struct {
	stream  *http.Client
	control *http.Client

	// Timeout caps one whole invocation, connect to final event.
	// Zero means no cap.
	Timeout time.Duration
}

func New(timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	return &Client{
		stream:  &http.Client{},
		control: rc.StandardClient(),
		Timeout: timeout,
	}
}

// InvokeNode posts spec to the daemon at addr (host:port) and consumes
// the event stream to completion. Connection failures, bad statuses,
// truncated streams and malformed frames all come back as a failed
// NodeResult, never as an error or a panic.
func (c *Client) InvokeNode(ctx context.Context, addr string, spec schema.JobSpec, det detector.Detector) *NodeResult {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	res := &NodeResult{Addr: addr, NodeRank: spec.NodeRank, Spec: spec}

	body, err := json.Marshal(spec)
	if err != nil {
		return res.fail("encode spec: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s%s", addr, schema.APIPath(schema.PathRunTaskSSE)), bytes.NewReader(body))
	if err != nil {
		return res.fail("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", sse.ContentType)

	resp, err := c.stream.Do(req)
	if err != nil {
		logger.LoggerForNode(addr).Debugf("connect failed: %v", err)
		return res.fail("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		logger.LoggerForNode(addr).Debugf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		return res.fail("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	seen := map[string]bool{}
	var payloads []schema.ResultPayload

	readErr := sse.Read(ctx, resp.Body, func(ev schema.Event) error {
		switch ev.Kind {
		case schema.EventLog:
			if det == nil {
				return nil
			}
			for _, line := range strings.Split(ev.Data, "\n") {
				if name, ok := det.Detect(line); ok && !seen[name] {
					seen[name] = true
					res.DetectedErrors = append(res.DetectedErrors, name)
				}
			}
		case schema.EventResult:
			payload, warning := decodeResultPayload(ev.Data)
			if warning != "" && res.ParseWarning == "" {
				res.ParseWarning = warning
			}
			payloads = append(payloads, payload)
		case schema.EventError:
			// Synthesized by a proxy or an older daemon; treat as a
			// failed run of the task, not of the transport.
			payloads = append(payloads, schema.ResultPayload{Success: false, Error: ev.Data})
		case schema.EventStart, schema.EventHeartbeat, schema.EventUnknown:
			// nothing to do
		}
		return nil
	})
	if readErr != nil {
		res.CompletedRuns = len(payloads)
		return res.fail("stream: %v", readErr)
	}
	if len(payloads) == 0 {
		// The daemon accepted the task but the connection ended before
		// any verdict. Indistinguishable from a daemon crash.
		return res.fail("stream ended without a result event")
	}

	res.Success = true
	res.CompletedRuns = len(payloads)
	for _, p := range payloads {
		res.NodeRank = p.NodeRank
		if !p.Success && res.Error == "" {
			res.Error = p.Error
		}
		res.Success = res.Success && p.Success
	}
	if res.ParseWarning != "" {
		res.Success = false
		if res.Error == "" {
			res.Error = res.ParseWarning
		}
	}
	if !res.Success && res.Error == "" {
		res.Error = "task reported failure"
	}
	return res
}

// Shutdown asks the daemon at addr to exit after draining its streams.
// Unlike task dispatch this is safe to retry, so it rides the retrying
// client.
func (c *Client) Shutdown(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s%s", addr, schema.APIPath(schema.PathShutdown)), nil)
	if err != nil {
		return err
	}
	resp, err := c.control.Do(req)
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("shutdown %s: HTTP %d: %s", addr, resp.StatusCode, bytes.TrimSpace(msg))
	}
	sr := schema.ShutdownResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("shutdown %s: decode response: %w", addr, err)
	}
	if !sr.Success {
		return fmt.Errorf("shutdown %s: daemon refused: %s", addr, sr.Message)
	}
	return nil
}
