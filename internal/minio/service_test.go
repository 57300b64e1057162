package minio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket, object, contentType string
	body                        []byte
	failures                    int
}

func (f *fakePutter) PutObject(
	_ context.Context,
	bucketName, objectName string,
	reader io.Reader,
	_ int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	if f.failures > 0 {
		f.failures--
		return minio.UploadInfo{}, errors.New("slow down")
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.bucket, f.object, f.contentType, f.body = bucketName, objectName, opts.ContentType, body

	return minio.UploadInfo{Bucket: bucketName, Key: objectName}, nil
}

func TestUploadPrefixesKey(t *testing.T) {
	putter := &fakePutter{}
	client := NewMinioClientWith(putter, "herald-archive", "herald")

	url, err := client.Upload(context.Background(), []byte("payload"), "archived-messages/2026-05-01.json.gz", "application/gzip")
	require.NoError(t, err)
	require.Contains(t, url, "/herald-archive/herald/archived-messages/2026-05-01.json.gz")

	require.Equal(t, "herald-archive", putter.bucket)
	require.Equal(t, "herald/archived-messages/2026-05-01.json.gz", putter.object)
	require.Equal(t, "application/gzip", putter.contentType)
	require.Equal(t, []byte("payload"), putter.body)
}

func TestUploadRetries(t *testing.T) {
	putter := &fakePutter{failures: 1}
	client := NewMinioClientWith(putter, "bucket", "")

	_, err := client.Upload(context.Background(), []byte("x"), "k", "text/plain")
	require.NoError(t, err)
	require.Equal(t, "k", putter.object)
}
