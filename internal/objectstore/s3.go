package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"studyhub/internal/config"
)

// maxDeleteKeys caps keys per DeleteObjects call.
const maxDeleteKeys = 100

// s3API is the part of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3 struct {
	api     s3API
	presign presignAPI
	bucket  string
}

// NewS3 wires an S3 store from already constructed clients.
func NewS3(api s3API, presign presignAPI, bucket string) (*S3, error) {
	if api == nil || presign == nil {
		return nil, errors.New("s3 object store: clients must not be nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 object store: bucket is required")
	}
	return &S3{api: api, presign: presign, bucket: bucket}, nil
}

// NewS3FromConfig loads AWS credentials from the default chain.
func NewS3FromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3(client, s3.NewPresignClient(client), cfg.Bucket)
}

func (s *S3) Put(ctx context.Context, objectPath string, body io.Reader, size int64, contentType string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(p),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", p, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, objectPaths ...string) error {
	var errs []error
	for start := 0; start < len(objectPaths); start += maxDeleteKeys {
		end := start + maxDeleteKeys
		if end > len(objectPaths) {
			end = len(objectPaths)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, objectPath := range objectPaths[start:end] {
			p, err := cleanPath(objectPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", objectPath, err))
				continue
			}
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(p)})
		}
		if len(ids) == 0 {
			continue
		}
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete objects: %w", err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

func (s *S3) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	if req == nil || !strings.HasPrefix(req.URL, "http") {
		return "", errors.New("presign returned no url")
	}
	return req.URL, nil
}
