//go:build integration_test || all_tests

package blog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsimic/blogbox/internal/db"
)

func testRepoSetup(t *testing.T) (*Repo, func()) {
	t.Helper()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	t.Logf("using postgres host: %s", host)

	dbPool, err := db.NewDBPool(timeoutCtx, db.NewDBPoolParams{
		DBHost:         host,
		DBPort:         "5432",
		DBName:         "blogbox",
		TracingEnabled: false,
	})
	require.NoError(t, err)

	return NewRepo(dbPool), func() {
		dbPool.Close()
	}
}

func addTestPost(t *testing.T, repo *Repo, params AddPostParams) *Post {
	t.Helper()
	if params.Title == "" {
		params.Title = gofakeit.Sentence(3)
	}
	if params.Content == "" {
		params.Content = gofakeit.Paragraph(1, 3, 10, " ")
	}
	post, err := repo.Add(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, post)
	return post
}

func TestRepo_Add_Get_Delete(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	postsCount, err := repo.Count(ctx)
	require.NoError(t, err)

	now := time.Now().Add(-time.Minute)

	thumbnail := "https://images.blogbox.test/blogs/thumbnails/cover.png"
	p1 := addTestPost(t, repo, AddPostParams{
		Title:     "p1",
		Content:   "content1",
		Tags:      []string{"go", "web"},
		Category:  "Tech",
		Thumbnail: &thumbnail,
	})
	p2 := addTestPost(t, repo, AddPostParams{Title: "p2", Content: "content2"})
	p3 := addTestPost(t, repo, AddPostParams{Title: "p3", Content: "content3"})

	assert.NotEqual(t, p1.ID, p2.ID)
	assert.NotEqual(t, p1.ID, p3.ID)
	assert.NotEqual(t, p2.ID, p3.ID)
	assert.True(t, now.Before(p1.CreatedAt), "%v should be before %v", now, p1.CreatedAt)
	assert.True(t, now.Before(p2.CreatedAt), "%v should be before %v", now, p2.CreatedAt)
	assert.True(t, now.Before(p3.CreatedAt), "%v should be before %v", now, p3.CreatedAt)

	postsCountAfter, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3+postsCount, postsCountAfter)

	gotten, err := repo.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", gotten.Title)
	assert.Equal(t, []string{"go", "web"}, gotten.Tags)
	assert.Equal(t, "Tech", gotten.Category)
	require.NotNil(t, gotten.Thumbnail)
	assert.Equal(t, thumbnail, *gotten.Thumbnail)

	// tags default to an empty array, never null
	gotten, err = repo.Get(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, gotten.Tags)
	assert.Nil(t, gotten.Thumbnail)

	// now delete p2
	_, err = repo.Delete(ctx, 25342523)
	assert.ErrorIs(t, err, ErrPostNotFound)

	deleted, err := repo.Delete(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, p2.ID, deleted.ID)

	_, err = repo.Get(ctx, p2.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestRepo_Update(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	post := addTestPost(t, repo, AddPostParams{
		Tags:     []string{"go"},
		Category: "Tech",
	})

	newTitle := "newtitle"
	updated, err := repo.Update(ctx, post.ID, UpdatePostParams{Title: &newTitle})
	require.NoError(t, err)
	require.NotNil(t, updated)

	// only the title changed, the rest stayed
	assert.Equal(t, "newtitle", updated.Title)
	assert.Equal(t, post.Content, updated.Content)
	assert.Equal(t, []string{"go"}, updated.Tags)
	assert.Equal(t, "Tech", updated.Category)
	assert.False(t, updated.UpdatedAt.Before(post.UpdatedAt))

	newContent := "newcontent"
	newCategory := "Life"
	updated, err = repo.Update(ctx, post.ID, UpdatePostParams{
		Content:  &newContent,
		Tags:     []string{"plants", "soil"},
		Category: &newCategory,
	})
	require.NoError(t, err)
	assert.Equal(t, "newtitle", updated.Title)
	assert.Equal(t, "newcontent", updated.Content)
	assert.Equal(t, []string{"plants", "soil"}, updated.Tags)
	assert.Equal(t, "Life", updated.Category)

	_, err = repo.Update(ctx, 25342523, UpdatePostParams{Title: &newTitle})
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestRepo_List(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	addedCount := 5
	for i := 1; i <= addedCount; i++ {
		addTestPost(t, repo, AddPostParams{
			Title:   fmt.Sprintf("p %d", i),
			Content: fmt.Sprintf("content %d", i),
		})
	}

	posts, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	// newest first
	assert.False(t, posts[0].CreatedAt.Before(posts[1].CreatedAt))

	posts, err = repo.List(ctx, addedCount, 0)
	require.NoError(t, err)
	assert.Len(t, posts, addedCount)

	count, err := repo.Count(ctx)
	require.NoError(t, err)

	posts, err = repo.List(ctx, 10, count)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestRepo_Search(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	marker := gofakeit.UUID()
	addTestPost(t, repo, AddPostParams{
		Title: fmt.Sprintf("hello %s world", marker),
	})
	addTestPost(t, repo, AddPostParams{
		Tags: []string{"tag-" + marker},
	})
	addTestPost(t, repo, AddPostParams{
		Category: "cat-" + marker,
	})
	addTestPost(t, repo, AddPostParams{
		Title: "unrelated post",
	})

	count, err := repo.SearchCount(ctx, marker)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	posts, err := repo.Search(ctx, marker, 10, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 3)

	// case insensitive
	posts, err = repo.Search(ctx, "TAG-"+marker, 10, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	// like metacharacters are matched literally
	count, err = repo.SearchCount(ctx, "%"+marker)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = repo.SearchCount(ctx, gofakeit.UUID())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRepo_ConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	// hammer a fresh repo from multiple goroutines, the table init must
	// run exactly once and every caller must see a usable table
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Count(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestRepo_Related_Recent(t *testing.T) {
	ctx := context.Background()
	repo, shutdown := testRepoSetup(t)
	defer shutdown()

	sharedTag := "tag-" + gofakeit.UUID()
	anchor := addTestPost(t, repo, AddPostParams{Tags: []string{sharedTag, "extra"}})
	sibling := addTestPost(t, repo, AddPostParams{Tags: []string{sharedTag}})
	addTestPost(t, repo, AddPostParams{Tags: []string{"tag-" + gofakeit.UUID()}})

	related, err := repo.Related(ctx, anchor.Tags, anchor.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, sibling.ID, related[0].ID)

	// the anchor itself is never part of its related posts
	related, err = repo.Related(ctx, sibling.Tags, sibling.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, anchor.ID, related[0].ID)

	recent, err := repo.Recent(ctx)
	require.NoError(t, err)
	assert.True(t, len(recent) <= 5)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i-1].CreatedAt.Before(recent[i].CreatedAt))
	}
}
