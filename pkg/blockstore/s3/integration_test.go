//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/fsal/pkg/backend/cow"
	"github.com/marmos91/fsal/pkg/blockstore"
	"github.com/marmos91/fsal/pkg/blockstore/blockstoretest"
	s3store "github.com/marmos91/fsal/pkg/blockstore/s3"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/kv/badgerkv"
	"github.com/stretchr/testify/require"
)

// setupTestS3 connects to Localstack (or another S3-compatible endpoint)
// and creates a bucket that is emptied and deleted when the test ends.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (override with LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./pkg/blockstore/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, s3store.Config) {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg := s3store.Config{
		Region:          "us-east-1",
		Bucket:          bucketName,
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      2,
	}
	client, err := s3store.NewClient(ctx, cfg)
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "is Localstack running at %s?", endpoint)

	t.Cleanup(func() {
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})

	return client, cfg
}

func TestS3BlockStore_Integration(t *testing.T) {
	ctx := context.Background()
	client, cfg := setupTestS3(t, "fsal-test-blocks")

	// Each test gets its own key prefix for isolation
	testCounter := 0
	suite := &blockstoretest.StoreTestSuite{
		NewStore: func(t *testing.T) blockstore.Store {
			testCounter++
			store, err := s3store.New(ctx, client, cfg.Bucket, fmt.Sprintf("test-%d/", testCounter))
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestS3BackedVolume_Integration(t *testing.T) {
	ctx := context.Background()
	client, cfg := setupTestS3(t, "fsal-test-volume")
	actx := fsal.RootAuth(ctx)

	kvStore, err := badgerkv.Open(ctx, badgerkv.Config{InMemory: true})
	require.NoError(t, err)

	inner, err := s3store.New(ctx, client, cfg.Bucket, "volume/")
	require.NoError(t, err)
	blocks, err := blockstore.NewCompressed(inner, "zstd")
	require.NoError(t, err)

	vol, err := cow.Open(ctx, kvStore, blocks, cow.Options{Name: "s3", RecordSize: 4096})
	require.NoError(t, err)
	defer func() { _ = vol.Close() }()

	live, err := vol.Mount(ctx, "")
	require.NoError(t, err)
	root, _, err := live.Root(actx)
	require.NoError(t, err)

	obj, _, err := live.Create(actx, root, "data", 0o644)
	require.NoError(t, err)

	payload := make([]byte, 3*4096+100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	f, err := live.Open(actx, obj, fsal.OpenWrite)
	require.NoError(t, err)
	_, err = f.WriteAt(actx, payload, 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync(actx))
	require.NoError(t, f.Close())

	f, err = live.Open(actx, obj, fsal.OpenRead)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	got := make([]byte, len(payload))
	n, _, err := f.ReadAt(actx, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)
}
