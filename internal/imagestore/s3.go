package imagestore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/bsimic/blogbox/internal/telemetry/tracing"
)

var _ Store = (*S3Store)(nil)

type S3Api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client    S3Api
	bucket    string
	keyPrefix string
	// base URL under which the bucket objects are publicly reachable,
	// e.g. https://cdn.example.com or the plain bucket endpoint
	publicBase string
	now        func() time.Time
}

type NewS3StoreParams struct {
	Client     S3Api
	Bucket     string
	KeyPrefix  string
	PublicBase string
}

func NewS3Store(params NewS3StoreParams) *S3Store {
	keyPrefix := strings.Trim(params.KeyPrefix, "/")
	if keyPrefix == "" {
		keyPrefix = "blogs/thumbnails"
	}
	return &S3Store{
		client:     params.Client,
		bucket:     params.Bucket,
		keyPrefix:  keyPrefix,
		publicBase: strings.TrimRight(params.PublicBase, "/"),
		now:        time.Now,
	}
}

func (s *S3Store) Upload(ctx context.Context, params UploadParams) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "imagestore.upload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	key := s.objectKey(params.Filename)

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   params.Content,
	}
	if params.ContentType != "" {
		putInput.ContentType = aws.String(params.ContentType)
	}
	if params.Size > 0 {
		putInput.ContentLength = aws.Int64(params.Size)
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	imageURL := fmt.Sprintf("%s/%s", s.publicBase, key)
	log.Debugf("thumbnail uploaded: %s", imageURL)

	return imageURL, nil
}

func (s *S3Store) Delete(ctx context.Context, imageURL string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "imagestore.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	key, err := s.KeyFromURL(imageURL)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	return nil
}

// KeyFromURL extracts the object key from a thumbnail URL previously
// returned by Upload. URLs pointing outside our key prefix are refused.
func (s *S3Store) KeyFromURL(imageURL string) (string, error) {
	rest, found := strings.CutPrefix(imageURL, s.publicBase+"/")
	if !found {
		return "", fmt.Errorf("%w: url %s not under %s", ErrImageNotFound, imageURL, s.publicBase)
	}
	if !strings.HasPrefix(rest, s.keyPrefix+"/") {
		return "", fmt.Errorf("%w: url %s outside of key prefix %s", ErrImageNotFound, imageURL, s.keyPrefix)
	}
	return rest, nil
}

func (s *S3Store) objectKey(filename string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(path.Base(filename), ext)
	if base == "" || base == "." {
		base = "thumbnail"
	}
	// unix nanos keep the keys unique enough, uploads are rare
	return fmt.Sprintf("%s/%s-%d%s", s.keyPrefix, base, s.now().UnixNano(), ext)
}
