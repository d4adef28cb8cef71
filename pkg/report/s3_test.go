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
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "11111111111111111111eeeeeeeeeeeee"
	testSecretKey = "11111111111111111111eeeeeeeeeeeee"
	testRegion    = "beijing-test"
	testBucket    = "pulse-reports"
)

// newFakeS3 starts an in-memory S3 endpoint with testBucket created and
// returns its URL plus a raw client for verification reads.
func newFakeS3(t *testing.T) (string, *s3.S3) {
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	s3Config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(testAccessKey, testSecretKey, ""),
		Endpoint:         aws.String(ts.URL),
		Region:           aws.String(testRegion),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	}
	newSession, err := session.NewSession(s3Config)
	require.NoError(t, err)

	raw := s3.New(newSession)
	_, err = raw.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(testBucket)})
	require.NoError(t, err)
	return ts.URL, raw
}

func TestS3SinkUpload(t *testing.T) {
	endpoint, raw := newFakeS3(t)
	sink := &S3Sink{
		Endpoint:  endpoint,
		Region:    testRegion,
		Bucket:    testBucket,
		KeyPrefix: "nightly",
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
	}

	r := Build([]RoundDetail{
		{RoundIdx: 0, Pairs: []PairResult{{PairID: 1, LeftResult: okSide(0), RightResult: okSide(1)}}},
	})
	r.Summary.StartedAt = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	key, err := sink.Upload(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "nightly/pulse-report-20230601T120000Z.json", key)

	out, err := raw.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"total_pairs": 1`)
	assert.Contains(t, string(body), `"failed_pairs": 0`)
}

func TestS3SinkRequiresBucket(t *testing.T) {
	sink := &S3Sink{Endpoint: "http://127.0.0.1:9000"}
	assert.False(t, sink.Enabled())
	_, err := sink.Upload(context.Background(), Build(nil))
	assert.Error(t, err)
}

func TestS3SinkRequiresEndpoint(t *testing.T) {
	sink := &S3Sink{Bucket: testBucket}
	assert.True(t, sink.Enabled())
	_, err := sink.Upload(context.Background(), Build(nil))
	assert.Error(t, err)
}
