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

package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// ErrDiscovery marks fatal discovery failures. A sweep must not start on a
// partial node list, so callers abort on any error wrapping this.
var ErrDiscovery = errors.New("node discovery failed")

// Rendezvous is the external collective used to assemble the cluster view.
// AllGather returns every node's NodeInfo in an order that is identical on
// all participants; Barrier returns once all participants reached it.
type Rendezvous interface {
	AllGather(ctx context.Context, self NodeInfo) ([]NodeInfo, error)
	Barrier(ctx context.Context) error
}

// Discover runs the all_gather + barrier sequence and validates index
// stability of the result.
func Discover(ctx context.Context, rdv Rendezvous, self NodeInfo) (List, error) {
	nodes, err := rdv.AllGather(ctx, self)
	if err != nil {
		return nil, errors.Wrapf(ErrDiscovery, "all_gather: %v", err)
	}
	if err := rdv.Barrier(ctx); err != nil {
		return nil, errors.Wrapf(ErrDiscovery, "barrier: %v", err)
	}
	list := List(nodes)
	if err := list.Validate(); err != nil {
		return nil, errors.Wrapf(ErrDiscovery, "validate: %v", err)
	}
	log.Infof("discovered %d nodes, %d ranks total", len(list), list.TotalRanks())
	return list, nil
}

// GatherHTTP assembles the cluster view from the daemons themselves: every
// address is asked for its NodeInfo concurrently, and node_idx is assigned
// by the order of addrs so all callers using the same address list see the
// same indices. Any unreachable daemon fails the whole discovery.
func GatherHTTP(ctx context.Context, addrs []string, timeout time.Duration) (List, error) {
	if len(addrs) == 0 {
		return nil, errors.Wrapf(ErrDiscovery, "no daemon addresses given")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	nodes := make(List, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			info, err := fetchNodeInfo(gctx, client, addr)
			if err != nil {
				return errors.Wrapf(ErrDiscovery, "node %s: %v", addr, err)
			}
			info.NodeIdx = i
			nodes[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := nodes.Validate(); err != nil {
		return nil, errors.Wrapf(ErrDiscovery, "validate: %v", err)
	}
	log.Infof("gathered %d nodes over http, %d ranks total", len(nodes), nodes.TotalRanks())
	return nodes, nil
}

func fetchNodeInfo(ctx context.Context, client *http.Client, addr string) (*NodeInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s%s", addr, schema.APIPath(schema.PathNodeInfo)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	info := &NodeInfo{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, fmt.Errorf("decode nodeinfo: %v", err)
	}
	return info, nil
}
