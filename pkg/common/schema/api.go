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

package schema

// Daemon route paths. Client and server compile against the same
// constants so the wire contract cannot drift between them.
const (
	RouterPrefix    = "/api/paddlepulse"
	RouterVersionV1 = "/v1"

	PathRunTaskSSE = "/run_task_sse"
	PathShutdown   = "/shutdown"
	PathNodeInfo   = "/nodeinfo"
	PathHealth     = "/health"
	PathRuns       = "/runs"
)

// APIPath joins a route path with the versioned prefix.
func APIPath(path string) string {
	return RouterPrefix + RouterVersionV1 + path
}
