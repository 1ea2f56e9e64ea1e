package imagestore

import (
	"context"
	"fmt"
	"io"
	"sync"
)

var _ Store = (*TestStore)(nil)

// TestStore is an in-memory image store used in handler tests.
type TestStore struct {
	mutex   sync.Mutex
	objects map[string][]byte

	UploadCalls []string
	DeleteCalls []string
	UploadErr   error
	DeleteErr   error
}

func NewTestStore() *TestStore {
	return &TestStore{
		objects: make(map[string][]byte),
	}
}

func (s *TestStore) Upload(_ context.Context, params UploadParams) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.UploadCalls = append(s.UploadCalls, params.Filename)
	if s.UploadErr != nil {
		return "", s.UploadErr
	}

	content, err := io.ReadAll(params.Content)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://images.test/blogs/thumbnails/%s-%d", params.Filename, len(s.objects))
	s.objects[url] = content
	return url, nil
}

func (s *TestStore) Delete(_ context.Context, imageURL string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.DeleteCalls = append(s.DeleteCalls, imageURL)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}

	if _, ok := s.objects[imageURL]; !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imageURL)
	}
	delete(s.objects, imageURL)
	return nil
}

func (s *TestStore) Stored(imageURL string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.objects[imageURL]
	return ok
}

func (s *TestStore) ObjectsCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.objects)
}
