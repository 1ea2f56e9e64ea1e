package client

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearcher(t *testing.T, debounce time.Duration) (*Searcher, *testPostsServer) {
	t.Helper()
	c, apiServer := newTestClient(t)
	searcher := NewSearcher(NewSearcherParams{
		Client:   c,
		Debounce: debounce,
	})
	t.Cleanup(searcher.Stop)
	return searcher, apiServer
}

func waitForQuery(t *testing.T, searcher *Searcher, expected string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return searcher.Query() == expected
	}, time.Second, 5*time.Millisecond)
}

func TestSearcher_debounce(t *testing.T) {
	searcher, _ := newTestSearcher(t, 20*time.Millisecond)

	// rapid updates: only the last one becomes effective
	searcher.SetQuery("r")
	searcher.SetQuery("re")
	searcher.SetQuery("rea")
	searcher.SetQuery("react")

	assert.Equal(t, "", searcher.Query())
	assert.True(t, searcher.IsSearching())

	waitForQuery(t, searcher, "react")
	assert.False(t, searcher.IsSearching())
}

func TestSearcher_shortQueryListsInstead(t *testing.T) {
	searcher, apiServer := newTestSearcher(t, time.Millisecond)
	apiServer.addPost("hello world", "Tech")
	apiServer.addPost("postgres tips", "Tech")

	// one-char query is not search-worthy, Fetch falls back to listing
	searcher.SetQuery("h")
	assert.False(t, searcher.IsSearching())
	waitForQuery(t, searcher, "h")

	page, err := searcher.Fetch(t.Context())
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)

	lastRequest := apiServer.lastRequest()
	assert.True(t, strings.HasPrefix(lastRequest, "GET /api/v1/readall"), lastRequest)
}

func TestSearcher_searchesWhenQueryLongEnough(t *testing.T) {
	searcher, apiServer := newTestSearcher(t, time.Millisecond)
	apiServer.addPost("hello world", "Tech")
	apiServer.addPost("postgres tips", "Tech")

	searcher.SetQuery("hello world")
	waitForQuery(t, searcher, "hello world")

	page, err := searcher.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "hello world", page.Posts[0].Title)

	lastRequest := apiServer.lastRequest()
	assert.True(t, strings.HasPrefix(lastRequest, "GET /api/v1/search"), lastRequest)
}

func TestSearcher_pageResetsOnQueryChange(t *testing.T) {
	searcher, _ := newTestSearcher(t, time.Millisecond)

	searcher.SetPage(3)
	assert.Equal(t, 3, searcher.Page())

	searcher.SetQuery("react")
	waitForQuery(t, searcher, "react")
	assert.Equal(t, 1, searcher.Page())

	// paging within the same effective query sticks
	searcher.SetPage(2)
	searcher.SetQuery("react")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, searcher.Page())
}

func TestSearcher_invalidPage(t *testing.T) {
	searcher, _ := newTestSearcher(t, time.Millisecond)

	searcher.SetPage(0)
	assert.Equal(t, 1, searcher.Page())
	searcher.SetPage(-4)
	assert.Equal(t, 1, searcher.Page())
}
