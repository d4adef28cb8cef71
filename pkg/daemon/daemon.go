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

// Package daemon is the per-node worker service. It launches task
// subprocesses on request and streams their lifecycle back to the caller
// as Server-Sent Events, so the scheduler on the other end of the
// connection observes start, output, heartbeats and the final verdict in
// real time.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/config"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
	"github.com/PaddlePaddle/PaddlePulse/pkg/executor"
	"github.com/PaddlePaddle/PaddlePulse/pkg/metrics"
	"github.com/PaddlePaddle/PaddlePulse/pkg/monitor"
	"github.com/PaddlePaddle/PaddlePulse/pkg/node"
	"github.com/PaddlePaddle/PaddlePulse/pkg/sse"
)

const (
	// responseGrace is how long the shutdown handler waits after the 200
	// before tearing the server down, so the response reaches the client.
	responseGrace = 200 * time.Millisecond

	// monitorDrain bounds the wait for the rank monitor's last poll after
	// the subprocess tree exits.
	monitorDrain = 2 * time.Second
)

type Daemon struct {
	conf    *config.DaemonConfig
	self    node.NodeInfo
	tracker *Tracker
	opts    executor.Options

	server   *http.Server
	stopping int32
	stopCh   chan struct{}

	// exitFn runs after a shutdown response has been flushed. Tests swap
	// it out; production keeps os.Exit.
	exitFn func(code int)
}

func New(conf *config.DaemonConfig, self node.NodeInfo) *Daemon {
	return &Daemon{
		conf:    conf,
		self:    self,
		tracker: NewTracker(conf.Task.HistorySize),
		opts: executor.Options{
			HeartbeatInterval: conf.Task.HeartbeatInterval(),
			DefaultScript:     conf.Task.PingpongScript,
		},
		stopCh: make(chan struct{}),
		exitFn: os.Exit,
	}
}

// Tracker exposes live/history counts for the metrics collector.
func (d *Daemon) Tracker() *Tracker {
	return d.tracker
}

// Handler builds the daemon's HTTP handler. Split from Start so tests can
// mount it on httptest servers.
func (d *Daemon) Handler() http.Handler {
	router := chi.NewRouter()
	d.RegisterRouters(router)
	return router
}

// Start serves until Stop or a listener error. ErrServerClosed is the
// normal end and is not reported.
func (d *Daemon) Start() error {
	addr := fmt.Sprintf("%s:%d", d.conf.Server.Host, d.conf.Server.Port)
	d.server = &http.Server{
		Addr:    addr,
		Handler: d.Handler(),
	}
	log.Infof("pulse daemon listening on %s, node %s with %d ranks",
		addr, d.self.Name, len(d.self.Ranks))
	if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop kills live runs and shuts the HTTP server down.
func (d *Daemon) Stop() {
	if atomic.CompareAndSwapInt32(&d.stopping, 0, 1) {
		close(d.stopCh)
	}
	d.tracker.KillAll()
	if d.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		log.Infof("daemon forced to shutdown: %v", err)
		d.server.Close()
	}
}

func (d *Daemon) isStopping() bool {
	return atomic.LoadInt32(&d.stopping) == 1
}

// runTaskSSE launches the requested task and streams its events. With
// runs > 1 the subprocess is restarted on the same response, one
// start..result cycle per run; repeat_until_fail restarts until a run
// fails, the client goes away or the daemon shuts down.
func (tr *TaskRouter) runTaskSSE(w http.ResponseWriter, r *http.Request) {
	d := tr.daemon
	reqCtx := &logger.RequestContext{RequestID: r.Header.Get(HeaderKeyRequestID)}
	if d.isStopping() {
		RenderErrWithMessage(w, reqCtx.RequestID, InternalError, "daemon is shutting down")
		return
	}

	spec := schema.JobSpec{}
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		reqCtx.Logging().Errorf("decode task spec failed: %v", err)
		RenderErrWithMessage(w, reqCtx.RequestID, MalformedJSON, err.Error())
		return
	}
	if spec.ExecutorType == schema.ExecutorTypePingpong && spec.Script == "" {
		spec.Script = d.opts.DefaultScript
	}
	if err := spec.Validate(); err != nil {
		reqCtx.Logging().Errorf("task spec failed validation: %v", err)
		RenderErrWithMessage(w, reqCtx.RequestID, InvalidJobSpec, err.Error())
		return
	}
	exe, err := executor.New(spec.ExecutorType, d.opts)
	if err != nil {
		reqCtx.Logging().Errorf("build executor failed: %v", err)
		RenderErrWithMessage(w, reqCtx.RequestID, ExecutorNotFound, err.Error())
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		RenderErrWithMessage(w, reqCtx.RequestID, InternalError, "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	sw := sse.NewWriter(w)
	defer sw.Close()

	entry := reqCtx.Logging()
	entry.Infof("run task: executor[%s] script[%s] runs[%d] repeatUntilFail[%v]",
		spec.ExecutorType, spec.Script, spec.TotalRuns(), spec.RepeatUntilFail)

	total := spec.TotalRuns()
	for runIdx := 0; ; runIdx++ {
		ok := d.streamOneRun(r.Context(), sw, exe, spec)
		if r.Context().Err() != nil || d.isStopping() {
			return
		}
		if spec.RepeatUntilFail {
			if !ok {
				return
			}
			continue
		}
		if runIdx+1 >= total {
			return
		}
	}
}

// streamOneRun drives one start..result cycle and reports whether the run
// succeeded. The subprocess is killed when the client disconnects or the
// daemon begins shutting down.
func (d *Daemon) streamOneRun(ctx context.Context, sw *sse.Writer, exe executor.Executor, spec schema.JobSpec) bool {
	start := time.Now()
	execn, err := exe.Launch(ctx, spec)
	if err != nil {
		// Could not even build the launch; the stream still ends with a
		// result so the client fails closed instead of timing out.
		raw, _ := json.Marshal(schema.ResultPayload{NodeRank: spec.NodeRank, Success: false, Error: err.Error()})
		_ = sw.WriteEvent(schema.Event{Kind: schema.EventResult, Data: string(raw)})
		metrics.TaskRunsTotal.WithLabelValues(string(spec.ExecutorType), "failed").Inc()
		return false
	}
	runID := execn.RunID()
	entry := logger.LoggerForRun(runID)
	d.tracker.Register(execn)
	defer d.tracker.Unregister(runID)

	monCtx, monCancel := context.WithCancel(context.Background())
	defer monCancel()
	var mon *monitor.RankMonitor

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			entry.Info("client disconnected, killing subprocess")
			_ = execn.Kill()
		case <-d.stopCh:
			entry.Info("daemon shutting down, killing subprocess")
			_ = execn.Kill()
		case <-watchDone:
		}
	}()

	success := false
	sawResult := false
	errMsg := ""
	streamBroken := false
	wroteBefore := sw.Written()
	for ev := range execn.Events() {
		if ev.Kind == schema.EventStart && mon == nil {
			if pid := execn.PID(); pid > 0 {
				mon = monitor.New(pid, 0)
				mon.Start(monCtx)
			}
		}
		if ev.Kind == schema.EventResult {
			sawResult = true
			payload := schema.ResultPayload{}
			if jsonErr := json.Unmarshal([]byte(ev.Data), &payload); jsonErr == nil {
				success = payload.Success
				errMsg = payload.Error
			}
		}
		if !streamBroken {
			if writeErr := sw.WriteEvent(ev); writeErr != nil {
				entry.Errorf("write event failed: %v", writeErr)
				streamBroken = true
				_ = execn.Kill()
			} else {
				metrics.TaskEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
			}
		}
	}
	if !sawResult {
		success = false
		errMsg = "run interrupted"
	}

	if mon != nil {
		// Give the monitor its final poll so the exits of a crashed tree
		// make it into the summary.
		select {
		case <-mon.Done():
		case <-time.After(monitorDrain):
		}
	}
	monCancel()

	duration := time.Since(start)
	metrics.TaskRunSeconds.Observe(duration.Seconds())
	metrics.TaskEventBytesTotal.Add(float64(sw.Written() - wroteBefore))
	status := "failed"
	if success {
		status = "succeeded"
	}
	metrics.TaskRunsTotal.WithLabelValues(string(spec.ExecutorType), status).Inc()

	sum := RunSummary{
		RunID:                  runID,
		Executor:               exe.Name(),
		Script:                 spec.Script,
		Success:                success,
		Error:                  errMsg,
		StartTime:              start,
		DurationInMilliseconds: duration.Milliseconds(),
	}
	if mon != nil {
		sum.RankExits = mon.Exits()
	}
	d.tracker.Record(sum)
	entry.Infof("run finished: %s in %v", status, duration)
	return success
}

// shutdown kills every live run, acknowledges with 200 and exits after
// the response is flushed. Idempotent so a retried shutdown during
// teardown still succeeds.
func (tr *TaskRouter) shutdown(w http.ResponseWriter, r *http.Request) {
	d := tr.daemon
	first := atomic.CompareAndSwapInt32(&d.stopping, 0, 1)
	if first {
		close(d.stopCh)
	}
	killed := d.tracker.KillAll()
	log.Infof("shutdown requested: killed %d live runs", killed)

	Render(w, http.StatusOK, schema.ShutdownResponse{
		Success: true,
		Message: fmt.Sprintf("killed %d live runs, daemon exiting", killed),
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if first {
		go func() {
			time.Sleep(responseGrace)
			if d.server != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = d.server.Shutdown(ctx)
			}
			d.exitFn(0)
		}()
	}
}

type RunsResponse struct {
	Total int          `json:"total"`
	Runs  []RunSummary `json:"runs"`
}

func (tr *TaskRouter) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := tr.daemon.tracker.History()
	Render(w, http.StatusOK, RunsResponse{Total: len(runs), Runs: runs})
}
