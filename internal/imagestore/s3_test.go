package imagestore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type s3ApiStub struct {
	putInputs    []*s3.PutObjectInput
	deleteInputs []*s3.DeleteObjectInput
}

func (s *s3ApiStub) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.putInputs = append(s.putInputs, params)
	return &s3.PutObjectOutput{}, nil
}

func (s *s3ApiStub) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	s.deleteInputs = append(s.deleteInputs, params)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestS3Store(api S3Api) *S3Store {
	store := NewS3Store(NewS3StoreParams{
		Client:     api,
		Bucket:     "blogbox-images",
		KeyPrefix:  "blogs/thumbnails",
		PublicBase: "https://images.blogbox.test",
	})
	store.now = func() time.Time {
		return time.Unix(0, 1700000000000000000)
	}
	return store
}

func TestS3Store_Upload(t *testing.T) {
	api := &s3ApiStub{}
	store := newTestS3Store(api)

	url, err := store.Upload(context.Background(), UploadParams{
		Filename:    "cover.png",
		ContentType: "image/png",
		Size:        4,
		Content:     strings.NewReader("fake"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://images.blogbox.test/blogs/thumbnails/cover-1700000000000000000.png", url)

	require.Len(t, api.putInputs, 1)
	assert.Equal(t, "blogbox-images", *api.putInputs[0].Bucket)
	assert.Equal(t, "blogs/thumbnails/cover-1700000000000000000.png", *api.putInputs[0].Key)
	assert.Equal(t, "image/png", *api.putInputs[0].ContentType)
}

func TestS3Store_Delete(t *testing.T) {
	api := &s3ApiStub{}
	store := newTestS3Store(api)

	err := store.Delete(context.Background(), "https://images.blogbox.test/blogs/thumbnails/cover-123.png")
	require.NoError(t, err)
	require.Len(t, api.deleteInputs, 1)
	assert.Equal(t, "blogs/thumbnails/cover-123.png", *api.deleteInputs[0].Key)
}

func TestS3Store_KeyFromURL(t *testing.T) {
	store := newTestS3Store(&s3ApiStub{})

	key, err := store.KeyFromURL("https://images.blogbox.test/blogs/thumbnails/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "blogs/thumbnails/abc.jpg", key)

	// foreign URLs are refused, we never delete objects we did not upload
	_, err = store.KeyFromURL("https://elsewhere.test/blogs/thumbnails/abc.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)

	_, err = store.KeyFromURL("https://images.blogbox.test/other/things/abc.jpg")
	assert.ErrorIs(t, err, ErrImageNotFound)
}
