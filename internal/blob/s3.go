package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store persists records in an S3-compatible bucket, one prefix per job id.
type S3Store struct {
	client *minio.Client
	bucket string
}

type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewS3Store connects to the endpoint and creates the bucket if it is missing.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect s3 endpoint: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

func (s *S3Store) Mode() string { return "s3" }

func objectKey(id string, variant Variant) string {
	switch variant {
	case VariantThumbnail:
		return id + "/thumbnail.webp"
	case VariantSpritesheet:
		return id + "/spritesheet.jpg"
	default:
		return id + "/video.mp4"
	}
}

func contentType(variant Variant) string {
	switch variant {
	case VariantThumbnail:
		return "image/webp"
	case VariantSpritesheet:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

func (s *S3Store) Put(ctx context.Context, r *Record) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(r.ID, VariantVideo),
		bytes.NewReader(r.Video), int64(len(r.Video)),
		minio.PutObjectOptions{ContentType: contentType(VariantVideo)})
	if err != nil {
		return fmt.Errorf("put video %s: %w", r.ID, err)
	}

	for variant, data := range map[Variant][]byte{
		VariantThumbnail:   r.Thumbnail,
		VariantSpritesheet: r.Spritesheet,
	} {
		if len(data) == 0 {
			continue
		}
		_, err = s.client.PutObject(ctx, s.bucket, objectKey(r.ID, variant),
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType(variant)})
		if err != nil {
			return fmt.Errorf("put %s %s: %w", variant, r.ID, err)
		}
	}
	return nil
}

func (s *S3Store) Open(ctx context.Context, id string, variant Variant) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(id, variant), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", variant, id, err)
	}
	// GetObject is lazy; Stat forces the first request so absence surfaces here.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s %s: %w", variant, id, err)
	}
	return obj, nil
}

func (s *S3Store) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(id, VariantVideo), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat video %s: %w", id, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	for _, variant := range []Variant{VariantVideo, VariantThumbnail, VariantSpritesheet} {
		err := s.client.RemoveObject(ctx, s.bucket, objectKey(id, variant), minio.RemoveObjectOptions{})
		if err != nil {
			return fmt.Errorf("remove %s %s: %w", variant, id, err)
		}
	}
	return nil
}

func (s *S3Store) Clear(ctx context.Context) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}
