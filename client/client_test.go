package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPostsServer fakes the posts API: a fixed set of posts behind
// /readall and /search, plus mutation endpoints guarded by the secret.
type testPostsServer struct {
	t      *testing.T
	secret string

	mutex  sync.Mutex
	posts  map[int]Post
	nextID int

	requests []string
}

func newTestPostsServer(t *testing.T) *testPostsServer {
	t.Helper()
	return &testPostsServer{
		t:      t,
		secret: "opensesame",
		posts:  make(map[int]Post),
		nextID: 1,
	}
}

func (s *testPostsServer) addPost(title, category string, tags ...string) Post {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	post := Post{
		ID:        s.nextID,
		Title:     title,
		Content:   title + " content",
		Tags:      tags,
		Category:  category,
		CreatedAt: time.Now().Add(time.Duration(s.nextID) * time.Minute),
	}
	s.nextID++
	s.posts[post.ID] = post
	return post
}

func (s *testPostsServer) lastRequest() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1]
}

func (s *testPostsServer) writeEnvelope(w http.ResponseWriter, statusCode int, data any, pagination *Pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	require.NoError(s.t, json.NewEncoder(w).Encode(map[string]any{
		"success":    statusCode < http.StatusBadRequest,
		"statusCode": statusCode,
		"message":    http.StatusText(statusCode),
		"data":       data,
		"pagination": pagination,
		"token":      nil,
	}))
}

func (s *testPostsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.RequestURI())
	s.mutex.Unlock()

	switch {
	case r.URL.Path == "/api/v1/readall":
		s.handleList(w, r, "")
	case r.URL.Path == "/api/v1/search":
		term := r.URL.Query().Get("q")
		if len(term) < 2 {
			s.writeEnvelope(w, http.StatusBadRequest, nil, nil)
			return
		}
		s.handleList(w, r, term)
	case r.URL.Path == "/api/v1/recent":
		s.handleList(w, r, "")
	case r.URL.Path == "/api/v1/create":
		if r.URL.Query().Get("secret") != s.secret {
			s.writeEnvelope(w, http.StatusForbidden, nil, nil)
			return
		}
		var params NewPostParams
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&params))
		post := s.addPost(params.Title, params.Category, params.Tags...)
		s.writeEnvelope(w, http.StatusCreated, post, nil)
	default:
		s.writeEnvelope(w, http.StatusNotFound, nil, nil)
	}
}

func (s *testPostsServer) handleList(w http.ResponseWriter, r *http.Request, term string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var matched []Post
	for _, post := range s.posts {
		if term == "" || post.Title == term || post.Category == term {
			matched = append(matched, post)
		}
	}
	if matched == nil {
		matched = []Post{}
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 10
	}

	s.writeEnvelope(w, http.StatusOK, matched, &Pagination{
		CurrentPage:  page,
		TotalPages:   1,
		TotalItems:   len(matched),
		ItemsPerPage: limit,
	})
}

func newTestClient(t *testing.T) (*Client, *testPostsServer) {
	t.Helper()
	apiServer := newTestPostsServer(t)
	server := httptest.NewServer(apiServer)
	t.Cleanup(server.Close)

	return NewClient(NewClientParams{
		BaseURL: server.URL + "/api/v1",
		Secret:  apiServer.secret,
	}), apiServer
}

func TestClient_List(t *testing.T) {
	c, apiServer := newTestClient(t)
	apiServer.addPost("hello world", "Tech", "react", "web")
	apiServer.addPost("postgres tips", "Tech", "db")

	page, err := c.List(t.Context(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)
	assert.Equal(t, 2, page.Pagination.TotalItems)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
}

func TestClient_Search(t *testing.T) {
	c, apiServer := newTestClient(t)
	apiServer.addPost("hello world", "Tech", "react", "web")
	apiServer.addPost("postgres tips", "Tech", "db")

	page, err := c.Search(t.Context(), "hello world", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "hello world", page.Posts[0].Title)

	// search term too short surfaces as an api error
	_, err = c.Search(t.Context(), "x", 1, 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_Create(t *testing.T) {
	c, apiServer := newTestClient(t)

	created, err := c.Create(t.Context(), NewPostParams{
		Title:    "hello world",
		Content:  "first post",
		Tags:     []string{"react", "web"},
		Category: "Tech",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "hello world", created.Title)
	assert.Equal(t, []string{"react", "web"}, created.Tags)

	// wrong secret is rejected
	wrongSecretClient := NewClient(NewClientParams{
		BaseURL:    c.baseURL,
		Secret:     "wrong",
		HTTPClient: c.httpClient,
	})
	_, err = wrongSecretClient.Create(t.Context(), NewPostParams{Title: "t", Content: "c"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	assert.Len(t, apiServer.posts, 1)
}

func TestClient_Get_notFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Get(t.Context(), 42)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
