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

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
)

// S3Sink archives sweep reports to an S3-compatible object store, minio
// included. A sink with an empty bucket is disabled.
type S3Sink struct {
	Endpoint  string
	Region    string
	Bucket    string
	KeyPrefix string
	AccessKey string
	SecretKey string
}

func (s *S3Sink) Enabled() bool {
	return s.Bucket != ""
}

func (s *S3Sink) client() (*s3.S3, error) {
	if s.Endpoint == "" {
		return nil, fmt.Errorf("s3 sink: endpoint is required")
	}
	awsConfig := &aws.Config{
		Region:   aws.String(s.Region),
		Endpoint: aws.String(s.Endpoint),
		// In-cluster object stores sit behind ip:port endpoints, so
		// virtual-hosted style cannot resolve.
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(!strings.HasPrefix(s.Endpoint, "https")),
		MaxRetries:       aws.Int(5),
	}
	if s.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(s.AccessKey, s.SecretKey, "")
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: create session: %w", err)
	}
	return s3.New(sess), nil
}

// Key derives the object key for a report from its start time, so the
// same sweep always lands at the same place.
func (s *S3Sink) Key(r *Report) string {
	started := r.Summary.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	name := fmt.Sprintf("pulse-report-%s.json", started.UTC().Format("20060102T150405Z"))
	return path.Join(s.KeyPrefix, name)
}

// Upload archives the report and returns the object key it was written
// under.
func (s *S3Sink) Upload(ctx context.Context, r *Report) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("s3 sink: bucket is required")
	}
	client, err := s.client()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3 sink: marshal report: %w", err)
	}
	key := s.Key(r)
	request := &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if _, err := client.PutObjectWithContext(ctx, request); err != nil {
		log.Errorf("s3.PutObject[%s] err: %v", key, err)
		return "", fmt.Errorf("s3 sink: put %s: %w", key, err)
	}
	log.Infof("report archived to s3://%s/%s", s.Bucket, key)
	return key, nil
}
