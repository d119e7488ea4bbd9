package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts        []string
	putBody     string
	deleteCalls [][]string
	deleteErrs  []types.Error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, aws.ToString(in.Key))
	data, _ := io.ReadAll(in.Body)
	f.putBody = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	var keys []string
	for _, obj := range in.Delete.Objects {
		keys = append(keys, aws.ToString(obj.Key))
	}
	f.deleteCalls = append(f.deleteCalls, keys)
	return &s3.DeleteObjectsOutput{Errors: f.deleteErrs}, nil
}

type fakePresign struct {
	expires time.Duration
	err     error
}

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=x"}, nil
}

func TestS3PutAndPresign(t *testing.T) {
	api, presign := &fakeS3{}, &fakePresign{}
	store, err := NewS3(api, presign, "uploads")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "3/x.heic", strings.NewReader("heic"), 4, "image/heic"))
	require.Equal(t, []string{"3/x.heic"}, api.puts)
	require.Equal(t, "heic", api.putBody)

	u, err := store.SignedURL(ctx, "3/x.heic", 10*time.Minute)
	require.NoError(t, err)
	require.Contains(t, u, "3/x.heic")
	require.Equal(t, 10*time.Minute, presign.expires)

	presign.err = errors.New("no creds")
	_, err = store.SignedURL(ctx, "3/x.heic", time.Minute)
	require.ErrorContains(t, err, "no creds")
}

func TestS3DeleteBatchesKeys(t *testing.T) {
	api := &fakeS3{}
	store, err := NewS3(api, &fakePresign{}, "uploads")
	require.NoError(t, err)

	paths := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		paths = append(paths, fmt.Sprintf("1/%d.png", i))
	}
	require.NoError(t, store.Delete(context.Background(), paths...))
	require.Len(t, api.deleteCalls, 3)
	require.Len(t, api.deleteCalls[0], 100)
	require.Len(t, api.deleteCalls[1], 100)
	require.Len(t, api.deleteCalls[2], 50)
}

func TestS3DeleteReportsPerKeyErrors(t *testing.T) {
	api := &fakeS3{deleteErrs: []types.Error{{Key: aws.String("1/a.png"), Message: aws.String("AccessDenied")}}}
	store, err := NewS3(api, &fakePresign{}, "uploads")
	require.NoError(t, err)

	err = store.Delete(context.Background(), "1/a.png")
	require.ErrorContains(t, err, "AccessDenied")
}

func TestNewS3Validation(t *testing.T) {
	_, err := NewS3(nil, &fakePresign{}, "b")
	require.Error(t, err)
	_, err = NewS3(&fakeS3{}, &fakePresign{}, "")
	require.Error(t, err)
}
