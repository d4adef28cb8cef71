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

// EventKind tags the frames of a task event stream.
type EventKind string

const (
	EventStart     EventKind = "start"
	EventLog       EventKind = "log"
	EventHeartbeat EventKind = "heartbeat"
	EventResult    EventKind = "result"
	// EventError is synthesized client side for transport failures. The
	// daemon never emits it on the wire.
	EventError EventKind = "error"
	// EventUnknown is the no-op fallback for kinds this build does not
	// know. Consumers skip it instead of failing the stream, so daemons
	// and clients of different versions stay compatible.
	EventUnknown EventKind = ""
)

// ParseEventKind never fails. Unrecognized names map to EventUnknown.
func ParseEventKind(name string) EventKind {
	switch EventKind(name) {
	case EventStart, EventLog, EventHeartbeat, EventResult, EventError:
		return EventKind(name)
	}
	return EventUnknown
}

func (k EventKind) String() string {
	return string(k)
}

// Event is one frame of a task stream. Data holds the raw payload text,
// multi-line for payloads that span several lines.
type Event struct {
	Kind EventKind `json:"kind"`
	Data string    `json:"data"`
}

// ResultPayload is the JSON body of a result event.
type ResultPayload struct {
	NodeRank int    `json:"node_rank"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// ShutdownResponse is the JSON body returned by the shutdown endpoint.
type ShutdownResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
