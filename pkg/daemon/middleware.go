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

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// CheckRequestID makes sure every request carries a request id and echoes
// it back, so a pair failure on the client maps to this daemon's log lines.
func CheckRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get(HeaderKeyRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
			log.Debugf("request id is null, generate request-id:%s", requestID)
		}
		req.Header.Set(HeaderKeyRequestID, requestID)
		w.Header().Add(HeaderKeyRequestID, requestID)
		w.Header().Add("Content-Type", "application/json")
		next.ServeHTTP(w, req)
	})
}

func NotFound(w http.ResponseWriter, req *http.Request) {
	RenderErr(w, req.Header.Get(HeaderKeyRequestID), PathNotFound)
}

func MethodNotAllowedHandler(w http.ResponseWriter, req *http.Request) {
	RenderErr(w, req.Header.Get(HeaderKeyRequestID), MethodNotAllowed)
}
