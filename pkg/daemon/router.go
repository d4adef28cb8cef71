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

package daemon

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

type IRouter interface {
	Name() string
	AddRouter(r chi.Router)
}

// RegisterRouters wires all daemon routes under the versioned prefix.
func (d *Daemon) RegisterRouters(r *chi.Mux) {
	r.Use(CheckRequestID)
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowedHandler)
	r.Use(middleware.Recoverer)
	r.Route(schema.RouterPrefix+schema.RouterVersionV1, func(apiV1Router chi.Router) {
		addRouter(apiV1Router, &TaskRouter{daemon: d})
		addRouter(apiV1Router, &NodeRouter{daemon: d})
		addRouter(apiV1Router, &HealthRouter{})
	})
}

func addRouter(r chi.Router, router IRouter) {
	log.Infof("Add router[%s]", router.Name())
	router.AddRouter(r)
}

// TaskRouter serves task launch, shutdown and run history.
type TaskRouter struct {
	daemon *Daemon
}

func (tr *TaskRouter) Name() string {
	return "Task"
}

func (tr *TaskRouter) AddRouter(r chi.Router) {
	r.Post(schema.PathRunTaskSSE, tr.runTaskSSE)
	r.Post(schema.PathShutdown, tr.shutdown)
	r.Get(schema.PathRuns, tr.listRuns)
}

// NodeRouter serves this node's probed NodeInfo for discovery.
type NodeRouter struct {
	daemon *Daemon
}

func (nr *NodeRouter) Name() string {
	return "Node"
}

func (nr *NodeRouter) AddRouter(r chi.Router) {
	r.Get(schema.PathNodeInfo, nr.nodeInfo)
}

func (nr *NodeRouter) nodeInfo(w http.ResponseWriter, r *http.Request) {
	Render(w, http.StatusOK, nr.daemon.self)
}

type HealthRouter struct{}

func (hr *HealthRouter) Name() string {
	return "Health"
}

func (hr *HealthRouter) AddRouter(r chi.Router) {
	r.Get(schema.PathHealth, hr.healthCheck)
}

func (hr *HealthRouter) healthCheck(w http.ResponseWriter, r *http.Request) {
	Render(w, http.StatusOK, nil)
}
