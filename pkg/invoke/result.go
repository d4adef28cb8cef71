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
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/PaddlePaddle/PaddlePulse/pkg/common/schema"
)

// NodeResult is the outcome of one task dispatched to one daemon. It is
// the unit the scheduler retries on and the report records verbatim.
type NodeResult struct {
	Addr     string `json:"addr,omitempty"`
	NodeRank int    `json:"node_rank"`
	// Spec echoes the job parameters this result answers, so a report
	// entry is self-describing without bookkeeping in the caller.
	Spec    schema.JobSpec `json:"spec"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	// DetectedErrors holds detector classifications matched against the
	// task's log lines, e.g. nccl_error or watchdog_timeout.
	DetectedErrors []string `json:"detected_errors,omitempty"`
	// ParseWarning is set when the result payload arrived but could not
	// be trusted. Such runs count as failed without being retryable.
	ParseWarning string `json:"parse_warning,omitempty"`
	// Transport marks failures of the connection or stream itself rather
	// than of the task. Only transport failures are worth retrying.
	Transport bool `json:"transport,omitempty"`
	// CompletedRuns counts the start..result cycles observed, of interest
	// when the spec asked for more than one run per connection.
	CompletedRuns int `json:"completed_runs,omitempty"`
}

func (r *NodeResult) Failed() bool {
	return !r.Success
}

// fail marks the result as a transport-level failure and returns it.
// Whatever was collected before the failure, detected errors included,
// stays on the record.
func (r *NodeResult) fail(format string, args ...interface{}) *NodeResult {
	r.Success = false
	r.Error = fmt.Sprintf(format, args...)
	r.Transport = true
	return r
}

// decodeResultPayload parses a result frame without ever trusting it.
// A payload that cannot be parsed, or that omits the success field,
// decodes as a failure with a warning. Defaulting success to true here
// would let a crashed wrapper script pass the connectivity test.
func decodeResultPayload(data string) (schema.ResultPayload, string) {
	payload := schema.ResultPayload{}
	raw := map[string]interface{}{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return payload, fmt.Sprintf("unparseable result payload: %v", err)
	}
	warning := ""
	if _, ok := raw["success"]; !ok {
		warning = "result payload missing success field"
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &payload,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return schema.ResultPayload{}, fmt.Sprintf("result decoder: %v", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return schema.ResultPayload{}, fmt.Sprintf("malformed result payload: %v", err)
	}
	if warning != "" {
		// Salvage node_rank and error for the report, but the verdict
		// stays failed.
		payload.Success = false
	}
	return payload, warning
}
