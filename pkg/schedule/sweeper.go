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

// Package schedule plans and drives a connectivity sweep. It expands a
// node list into cross-node rank pairs, packs the pairs into rounds
// where no rank appears twice, then walks the rounds in order, invoking
// both sides of every pair in a round concurrently through the worker
// daemons. Transport failures are retried with capped linear backoff;
// everything else is a verdict and goes straight into the report.
package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/logger"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
	"github.com/PaddlePaddle/PaddlePulse/pkg/common/utils"
	"github.com/PaddlePaddle/PaddlePulse/pkg/detector"
	"github.com/PaddlePaddle/PaddlePulse/pkg/invoke"
	"github.com/PaddlePaddle/PaddlePulse/pkg/node"
	"github.com/PaddlePaddle/PaddlePulse/pkg/report"
)

const (
	DefaultRetries = 2
	DefaultPortLo  = 20000
	DefaultPortHi  = 30000

	maxBackoff = 3 * time.Second
)

// Invoker dispatches one job spec to one daemon. *invoke.Client is the
// production implementation; tests substitute fakes.
type Invoker interface {
	InvokeNode(ctx context.Context, addr string, spec schema.JobSpec, det detector.Detector) *invoke.NodeResult
}

// PortRange bounds the rendezvous ports drawn for pair attempts, both
// ends inclusive.
type PortRange struct {
	Lo int
	Hi int
}

func (p PortRange) orDefault() PortRange {
	if p.Lo == 0 && p.Hi == 0 {
		return PortRange{Lo: DefaultPortLo, Hi: DefaultPortHi}
	}
	return p
}

func (p PortRange) validate() error {
	if p.Lo <= 0 || p.Hi > 65535 || p.Lo > p.Hi {
		return fmt.Errorf("invalid rendezvous port range [%d, %d]", p.Lo, p.Hi)
	}
	return nil
}

type Config struct {
	// Executor and Script describe the payload every pair runs. An
	// empty executor means pingpong; an empty script lets the daemon
	// fill in its configured default.
	Executor   schema.ExecutorType
	Script     string
	ScriptArgs []string
	// Runs asks each side for this many start..result cycles per
	// attempt. Zero means one.
	Runs int

	// Retries is the number of extra attempts after the first, so the
	// attempt budget is Retries+1. Only transport failures are retried:
	// a task that genuinely ran and failed would just fail again.
	Retries int
	// AttemptTimeout bounds one attempt of one pair, both sides
	// included. Exceeding it counts as a transport failure. Zero means
	// no bound.
	AttemptTimeout time.Duration
	Ports          PortRange

	// Concurrency caps in-flight pairs within a round. Zero runs the
	// whole round at once.
	Concurrency int
	// Shuffle randomizes pair placement across rounds so repeated
	// sweeps exercise different groupings. Seed pins the randomness for
	// reproducible sweeps; zero seeds from the clock.
	Shuffle bool
	Seed    int64

	// Quiet suppresses the per-round progress bar.
	Quiet bool
	// Note is carried into the report summary unchanged.
	Note string
}

func (c *Config) attempts() int {
	if c.Retries < 0 {
		return DefaultRetries + 1
	}
	return c.Retries + 1
}

func (c *Config) executor() schema.ExecutorType {
	if c.Executor == "" {
		return schema.ExecutorTypePingpong
	}
	return c.Executor
}

// Sweeper drives sweeps over a cluster, one Run at a time.
type Sweeper struct {
	cfg Config
	inv Invoker
	det detector.Detector

	// rand.Rand is not goroutine-safe and concurrent pair attempts all
	// draw rendezvous ports from it.
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSweeper(cfg Config, inv Invoker, det detector.Detector) *Sweeper {
	cfg.Ports = cfg.Ports.orDefault()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sweeper{
		cfg: cfg,
		inv: inv,
		det: det,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (s *Sweeper) randPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Ports.Lo + s.rng.Intn(s.cfg.Ports.Hi-s.cfg.Ports.Lo+1)
}

// Run executes a full sweep over nodes. Pair failures are data in the
// returned report, never errors: the error return covers pre-flight
// problems and cancellation. A canceled sweep returns the rounds
// finished so far alongside the context's error.
func (s *Sweeper) Run(ctx context.Context, nodes node.List) (*report.Report, error) {
	started := time.Now()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes to sweep")
	}
	if err := nodes.Validate(); err != nil {
		return nil, err
	}
	if err := s.cfg.Ports.validate(); err != nil {
		return nil, err
	}

	pairs := BuildCrossNodePairs(nodes)
	var rng *rand.Rand
	if s.cfg.Shuffle {
		rng = s.rng
	}
	rounds := PartitionIntoRounds(pairs, rng)
	log.Infof("sweep plan: %d nodes, %d ranks, %d cross-node pairs in %d rounds",
		len(nodes), nodes.TotalRanks(), len(pairs), len(rounds))
	if s.cfg.Note != "" {
		log.Infof("sweep note: %s", s.cfg.Note)
	}

	details := []report.RoundDetail{}
	pairID := 0
	for roundIdx, roundPairs := range rounds {
		if err := ctx.Err(); err != nil {
			return s.finish(details, started), err
		}

		var pool *ants.Pool
		if s.cfg.Concurrency > 0 {
			var err error
			pool, err = ants.NewPool(s.cfg.Concurrency)
			if err != nil {
				return s.finish(details, started), fmt.Errorf("create worker pool: %w", err)
			}
		}

		title := fmt.Sprintf("round %d/%d ", roundIdx+1, len(rounds))
		progress, bar := utils.NewDynProgressBar(title, s.cfg.Quiet, int64(len(roundPairs)))

		// Every pair writes only its own slot, so the slice needs no lock.
		results := make([]report.PairResult, len(roundPairs))
		var wg sync.WaitGroup
		for i := range roundPairs {
			pairID++
			i, p, id := i, roundPairs[i], pairID
			wg.Add(1)
			task := func() {
				defer wg.Done()
				results[i] = s.invokePair(ctx, nodes, p, id)
				bar.Increment()
			}
			if pool == nil {
				go task()
				continue
			}
			if err := pool.Submit(task); err != nil {
				task()
			}
		}
		wg.Wait()
		if pool != nil {
			pool.Release()
		}
		progress.Wait()

		details = append(details, report.RoundDetail{RoundIdx: roundIdx, Pairs: results})
		failed := 0
		for i := range results {
			if results[i].Failed() {
				failed++
			}
		}
		if failed > 0 {
			log.Warnf("round %d/%d: %d of %d pairs failed", roundIdx+1, len(rounds), failed, len(results))
		} else {
			log.Infof("round %d/%d: all %d pairs passed", roundIdx+1, len(rounds), len(results))
		}
	}
	// a cancellation during the last round still counts as a canceled sweep
	return s.finish(details, started), ctx.Err()
}

func (s *Sweeper) finish(details []report.RoundDetail, started time.Time) *report.Report {
	rep := report.Build(details)
	rep.Summary.Note = s.cfg.Note
	rep.Summary.StartedAt = started
	rep.Summary.DurationInMilliseconds = time.Since(started).Milliseconds()
	return rep
}

// invokePair runs one pair to a final verdict. Pair side A hosts the
// rendezvous (node_rank 0) and its node IP is the master address; the
// port is drawn fresh for every attempt so a retry is not stuck with a
// port that just proved unusable.
func (s *Sweeper) invokePair(ctx context.Context, nodes node.List, p Pair, pairID int) report.PairResult {
	a := &nodes[p.A.NodeIdx]
	b := &nodes[p.B.NodeIdx]
	res := report.PairResult{
		PairID:  pairID,
		NodeA:   a.Name,
		NodeAIP: a.IP,
		LocalA:  p.A.Local,
		NodeB:   b.Name,
		NodeBIP: b.IP,
		LocalB:  p.B.Local,
	}
	entry := logger.LoggerForPair(p.Key())

	template := schema.JobSpec{
		ExecutorType: s.cfg.executor(),
		NNodes:       2,
		Script:       s.cfg.Script,
		ScriptArgs:   s.cfg.ScriptArgs,
		Runs:         s.cfg.Runs,
	}

	attempts := s.cfg.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempt = attempt
		res.Error = ""

		port := s.randPort()
		left := schema.JobSpec{}
		right := schema.JobSpec{}
		if err := copier.Copy(&left, &template); err != nil {
			res.Error = fmt.Sprintf("build job spec: %v", err)
			return res
		}
		if err := copier.Copy(&right, &template); err != nil {
			res.Error = fmt.Sprintf("build job spec: %v", err)
			return res
		}
		left.NodeRank = 0
		left.MasterAddr = a.IP
		left.MasterPort = port
		right.NodeRank = 1
		right.MasterAddr = a.IP
		right.MasterPort = port

		attemptCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		}
		var leftRes, rightRes *invoke.NodeResult
		g, gctx := errgroup.WithContext(attemptCtx)
		g.Go(func() error {
			leftRes = s.inv.InvokeNode(gctx, a.Addr(), left, s.det)
			return nil
		})
		g.Go(func() error {
			rightRes = s.inv.InvokeNode(gctx, b.Addr(), right, s.det)
			return nil
		})
		_ = g.Wait()
		if cancel != nil {
			cancel()
		}
		res.LeftResult = leftRes
		res.RightResult = rightRes

		if !leftRes.Transport && !rightRes.Transport {
			if leftRes.Failed() || rightRes.Failed() {
				entry.Warnf("pair failed on attempt %d: left error %q, right error %q",
					attempt, leftRes.Error, rightRes.Error)
			}
			return res
		}

		errMsg := rightRes.Error
		if leftRes.Transport {
			errMsg = leftRes.Error
		}
		res.Error = errMsg
		if attempt == attempts {
			entry.Errorf("pair failed after %d attempts: %s", attempt, errMsg)
			return res
		}
		backoff := time.Duration(attempt) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		entry.Warnf("attempt %d/%d hit a transport failure: %s, retrying in %v",
			attempt, attempts, errMsg, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			res.Error = fmt.Sprintf("%s (canceled during retry backoff: %v)", errMsg, ctx.Err())
			return res
		}
	}
	return res
}
