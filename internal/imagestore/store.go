package imagestore

import (
	"context"
	"errors"
	"io"
)

var ErrImageNotFound = errors.New("image not found")

type UploadParams struct {
	// original filename, used only for the object key suffix
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Store is the external object store holding post thumbnails. Posts
// reference the uploaded images by URL only.
type Store interface {
	Upload(ctx context.Context, params UploadParams) (url string, err error)
	Delete(ctx context.Context, imageURL string) error
}
