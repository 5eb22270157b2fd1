// Package cloudtest runs mirror integration tests against a local moto S3
// endpoint. Tests using it are tagged //go:build cloudintegration.
//
//	func TestMirrorUpload(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    // ... upload ...
//	    body := cloudtest.GetObjectT(t, ctx, bucket, "installs/Arena/a.txt")
//	}
package cloudtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// DefaultEndpoint is the moto server. Port 5555 avoids macOS AirTunes on 5000.
	DefaultEndpoint = "http://localhost:5555"

	DefaultRegion = "us-east-1"

	// moto accepts any credentials.
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is overridable with MOTO_ENDPOINT.
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)

	// Region is overridable with MOTO_REGION.
	Region = envOr("MOTO_REGION", DefaultRegion)

	client     *s3.Client
	clientOnce sync.Once
	clientErr  error
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Available reports whether moto answers on Endpoint.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// SkipIfUnavailable skips t when moto is not running.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not available at %s (start with: make moto-start)", Endpoint)
	}
}

// Client returns a shared path-style S3 client for moto.
func Client() (*s3.Client, error) {
	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				TestAccessKeyID, TestSecretAccessKey, "",
			)),
		)
		if err != nil {
			clientErr = fmt.Errorf("load config: %w", err)
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	return client, clientErr
}

// ClientT is Client, failing t on error.
func ClientT(t *testing.T) *s3.Client {
	t.Helper()
	c, err := Client()
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	return c
}

// CreateBucket creates a uniquely named bucket and deletes it when t ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	name := strings.ToLower(t.Name())
	name = strings.NewReplacer("/", "-", "_", "-").Replace(name)
	if len(name) > 50 {
		name = name[:50]
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)

	if _, err := ClientT(t).CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("failed to create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { DeleteBucket(t, context.Background(), name) })
	return name
}

// DeleteBucket empties and removes bucket. Failures are logged.
func DeleteBucket(t *testing.T, ctx context.Context, bucket string) {
	t.Helper()
	c := ClientT(t)

	keys, err := ListKeys(ctx, bucket)
	if err != nil {
		t.Logf("warning: failed to list objects in bucket %s: %v", bucket, err)
		return
	}
	for _, key := range keys {
		if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
			t.Logf("warning: failed to delete object %s: %v", key, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: failed to delete bucket %s: %v", bucket, err)
	}
}

// ListKeys returns every key in bucket, sorted.
func ListKeys(ctx context.Context, bucket string) ([]string, error) {
	c, err := Client()
	if err != nil {
		return nil, err
	}
	var keys []string
	p := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetObjectT reads an object body, failing t on error.
func GetObjectT(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()
	out, err := ClientT(t).GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		t.Fatalf("failed to get object %s/%s: %v", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("failed to read object %s/%s: %v", bucket, key, err)
	}
	return b
}
