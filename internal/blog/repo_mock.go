package blog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ postsRepo = (*repoMock)(nil)

type repoMock struct {
	Posts  map[int]*Post
	nextID int
	mutex  sync.Mutex
}

func newRepoMock() *repoMock {
	return &repoMock{
		Posts:  make(map[int]*Post),
		nextID: 1,
	}
}

func (r *repoMock) PostsCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.Posts)
}

func (r *repoMock) Add(_ context.Context, params AddPostParams) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	now := time.Now()
	post := &Post{
		ID:        r.nextID,
		Title:     params.Title,
		Content:   params.Content,
		Tags:      tags,
		Category:  params.Category,
		Thumbnail: params.Thumbnail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.nextID++
	r.Posts[post.ID] = post

	return post, nil
}

func (r *repoMock) Get(_ context.Context, id int) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.Posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func (r *repoMock) Update(_ context.Context, id int, params UpdatePostParams) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.Posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}

	if params.Title != nil {
		post.Title = *params.Title
	}
	if params.Content != nil {
		post.Content = *params.Content
	}
	if params.Tags != nil {
		post.Tags = params.Tags
	}
	if params.Category != nil {
		post.Category = *params.Category
	}
	if params.Thumbnail != nil {
		post.Thumbnail = params.Thumbnail
	}
	post.UpdatedAt = time.Now()

	return post, nil
}

func (r *repoMock) Delete(_ context.Context, id int) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	post, ok := r.Posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}

	delete(r.Posts, id)

	return post, nil
}

func (r *repoMock) List(_ context.Context, limit, offset int) ([]Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return pageOf(r.sortedPosts(), limit, offset), nil
}

func (r *repoMock) Count(_ context.Context) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.Posts), nil
}

func (r *repoMock) Search(_ context.Context, term string, limit, offset int) ([]Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var matched []Post
	for _, post := range r.sortedPosts() {
		if postMatches(post, term) {
			matched = append(matched, post)
		}
	}

	return pageOf(matched, limit, offset), nil
}

func (r *repoMock) SearchCount(_ context.Context, term string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for _, post := range r.Posts {
		if postMatches(*post, term) {
			count++
		}
	}

	return count, nil
}

func (r *repoMock) Related(_ context.Context, tags []string, excludeID int) ([]Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var related []Post
	for _, post := range r.sortedPosts() {
		if post.ID == excludeID {
			continue
		}
		if !tagsOverlap(post.Tags, tags) {
			continue
		}
		related = append(related, post)
		if len(related) == 5 {
			break
		}
	}

	return related, nil
}

func (r *repoMock) Recent(_ context.Context) ([]Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return pageOf(r.sortedPosts(), 5, 0), nil
}

// sortedPosts returns all posts, newest first. Callers must hold the mutex.
func (r *repoMock) sortedPosts() []Post {
	posts := make([]Post, 0, len(r.Posts))
	for id := range r.Posts {
		posts = append(posts, *r.Posts[id])
	}
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts
}

func pageOf(posts []Post, limit, offset int) []Post {
	if offset >= len(posts) {
		return nil
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	return posts[offset:end]
}

func postMatches(post Post, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(post.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(post.Category), term) {
		return true
	}
	for _, tag := range post.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

func tagsOverlap(a, b []string) bool {
	for _, at := range a {
		for _, bt := range b {
			if at == bt {
				return true
			}
		}
	}
	return false
}
