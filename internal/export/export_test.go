package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	buckets map[string]bool
	objects map[string]string
}

func (f *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.objects[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, ETag: "etag-" + filepath.Base(filePath)}, nil
}

func TestUploadRun(t *testing.T) {
	dir := t.TempDir()
	sft := filepath.Join(dir, "sft.jsonl")
	require.NoError(t, os.WriteFile(sft, []byte("{}\n"), 0o644))

	store := &fakeStore{buckets: map[string]bool{}, objects: map[string]string{}}
	u := &Uploader{client: store, cfg: Config{Bucket: "datasets", Prefix: "/st/"}}

	got, err := u.UploadRun(context.Background(), "run-42", []string{sft, filepath.Join(dir, "dpo.jsonl")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "st/run-42/sft.jsonl", got[0].Key)
	assert.Equal(t, int64(3), got[0].Size)
	assert.Equal(t, "etag-sft.jsonl", got[0].ETag)
	assert.True(t, store.buckets["datasets"])
	assert.Equal(t, "application/x-ndjson", store.objects["datasets/st/run-42/sft.jsonl"])
}

func TestConfig_Validate(t *testing.T) {
	ok := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Endpoint = "http://localhost:9000"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Bucket = ""
	assert.Error(t, bad.Validate())

	_, err := NewUploader(Config{})
	assert.Error(t, err)

	u, err := NewUploader(ok)
	require.NoError(t, err)
	assert.Equal(t, "r/x.jsonl", u.Key("r", "/tmp/x.jsonl"))
}
