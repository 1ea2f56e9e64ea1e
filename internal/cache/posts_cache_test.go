package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPost struct {
	ID    int       `json:"id"`
	Title string    `json:"title"`
	When  time.Time `json:"when"`
}

func TestPostsCache_Recent(t *testing.T) {
	postsCache := NewPostsCache()

	var got []testPost
	assert.False(t, postsCache.GetRecent(&got))

	posts := []testPost{
		{ID: 1, Title: "first", When: time.Now().UTC()},
		{ID: 2, Title: "second", When: time.Now().UTC()},
	}
	require.NoError(t, postsCache.SetRecent(posts))

	require.True(t, postsCache.GetRecent(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, 2, got[1].ID)

	postsCache.InvalidateRecent()
	assert.False(t, postsCache.GetRecent(&got))
}
