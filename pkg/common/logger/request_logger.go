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

package logger

import (
	log "github.com/sirupsen/logrus"
)

// RequestContext carries the request id a daemon handler tags its log
// entries with.
type RequestContext struct {
	RequestID string
}

func (ctx *RequestContext) Logging() *log.Entry {
	return log.WithFields(log.Fields{
		"RequestID": ctx.RequestID,
	})
}

// LoggerForRun scopes entries to one task run on the worker daemon.
func LoggerForRun(runID string) *log.Entry {
	return log.WithFields(log.Fields{
		"RunID": runID,
	})
}

// LoggerForPair scopes entries to one rank pair during a sweep.
func LoggerForPair(pairKey string) *log.Entry {
	return log.WithFields(log.Fields{
		"Pair": pairKey,
	})
}

// LoggerForNode scopes entries to one worker daemon address.
func LoggerForNode(addr string) *log.Entry {
	return log.WithFields(log.Fields{
		"Node": addr,
	})
}
