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
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const HeaderKeyRequestID = "x-pp-request-id"

const (
	InternalError      = "InternalError"      // all otherwise undefined errors
	InvalidHTTPRequest = "InvalidHTTPRequest" // malformed HTTP body
	MalformedJSON      = "MalformedJSON"      // body is not valid JSON
	InvalidJobSpec     = "InvalidJobSpec"     // JobSpec failed validation
	ExecutorNotFound   = "ExecutorNotFound"   // unknown executor_type
	RunNotFound        = "RunNotFound"        // run id not live and not in history
	PathNotFound       = "PathNotFound"
	MethodNotAllowed   = "MethodNotAllowed"
)

var errorHTTPStatus = map[string]int{
	InternalError:      http.StatusInternalServerError,
	InvalidHTTPRequest: http.StatusBadRequest,
	MalformedJSON:      http.StatusBadRequest,
	InvalidJobSpec:     http.StatusBadRequest,
	ExecutorNotFound:   http.StatusBadRequest,
	RunNotFound:        http.StatusNotFound,
	PathNotFound:       http.StatusNotFound,
	MethodNotAllowed:   http.StatusMethodNotAllowed,
}

var errorMessage = map[string]string{
	InternalError:      "We encountered an internal error. Please try again.",
	InvalidHTTPRequest: "One or more errors in HTTP request body",
	MalformedJSON:      "The JSON provided was not well-formatted",
	InvalidJobSpec:     "The task spec failed validation",
	ExecutorNotFound:   "The executor_type is not supported by this daemon",
	RunNotFound:        "Run id not found",
	PathNotFound:       "Path not found",
	MethodNotAllowed:   "Method not allowed",
}

type ErrorResponse struct {
	RequestID    string `json:"requestID"`
	ErrorCode    string `json:"code"`
	ErrorMessage string `json:"message"`
}

func GetHttpStatusByCode(code string) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func GetMessageByCode(code string) string {
	if message, ok := errorMessage[code]; ok {
		return message
	}
	return errorMessage[InternalError]
}

func Render(w http.ResponseWriter, httpCode int, data interface{}) {
	w.WriteHeader(httpCode)
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			log.Errorf("Render response requestID[%s], err[%s]", w.Header().Get(HeaderKeyRequestID), err.Error())
		}
		w.Write(jsonBytes)
	}
}

func RenderErr(w http.ResponseWriter, requestID string, code string) {
	RenderErrWithMessage(w, requestID, code, "")
}

func RenderErrWithMessage(w http.ResponseWriter, requestID string, code string, message string) {
	if code == "" {
		code = InternalError
	}
	if message == "" {
		message = GetMessageByCode(code)
	}
	Render(w, GetHttpStatusByCode(code), ErrorResponse{
		RequestID:    requestID,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}
