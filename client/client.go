// Package client is a Go client for the blogbox posts API, a
// counterpart to the data hooks used by the web frontend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Post mirrors the API representation of a blog post.
type Post struct {
	ID        int       `json:"blog_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	Thumbnail *string   `json:"thumbnail"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Related   []Post    `json:"related,omitempty"`
}

type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalItems   int  `json:"totalItems"`
	ItemsPerPage int  `json:"itemsPerPage"`
	HasNextPage  bool `json:"hasNextPage"`
	HasPrevPage  bool `json:"hasPrevPage"`
	NextPage     *int `json:"nextPage"`
	PrevPage     *int `json:"prevPage"`
}

// PostsPage is one page of posts together with its pagination metadata.
type PostsPage struct {
	Posts      []Post
	Pagination Pagination
}

type NewPostParams struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// UpdatePostParams carries a partial update, nil fields stay untouched.
type UpdatePostParams struct {
	Title    *string  `json:"title,omitempty"`
	Content  *string  `json:"content,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Category *string  `json:"category,omitempty"`
}

// APIError is a non-2xx envelope returned by the posts API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("posts api: %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

type NewClientParams struct {
	// BaseURL of the API, e.g. http://localhost:9000/api/v1
	BaseURL string
	// Secret authorizes create / update / delete calls
	Secret     string
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) *Client {
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(params.BaseURL, "/"),
		secret:     params.Secret,
		httpClient: httpClient,
	}
}

func (c *Client) List(ctx context.Context, page, limit int) (*PostsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	env, err := c.call(ctx, "GET", "/readall?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	return postsPage(env)
}

func (c *Client) Search(ctx context.Context, term string, page, limit int) (*PostsPage, error) {
	query := url.Values{}
	query.Set("q", term)
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	env, err := c.call(ctx, "GET", "/search?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	return postsPage(env)
}

func (c *Client) Get(ctx context.Context, id int) (*Post, error) {
	env, err := c.call(ctx, "GET", fmt.Sprintf("/read/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return post(env)
}

// GetWithRelated also fetches up to 5 posts sharing a tag with the
// requested one, available on the returned post as Related.
func (c *Client) GetWithRelated(ctx context.Context, id int) (*Post, error) {
	env, err := c.call(ctx, "GET", fmt.Sprintf("/read/%d?related=1", id), nil)
	if err != nil {
		return nil, err
	}
	return post(env)
}

func (c *Client) Recent(ctx context.Context) ([]Post, error) {
	env, err := c.call(ctx, "GET", "/recent", nil)
	if err != nil {
		return nil, err
	}

	var posts []Post
	if err := json.Unmarshal(env.Data, &posts); err != nil {
		return nil, fmt.Errorf("unmarshal recent posts: %w", err)
	}
	return posts, nil
}

func (c *Client) Create(ctx context.Context, params NewPostParams) (*Post, error) {
	env, err := c.call(ctx, "POST", "/create?secret="+url.QueryEscape(c.secret), params)
	if err != nil {
		return nil, err
	}
	return post(env)
}

func (c *Client) Update(ctx context.Context, id int, params UpdatePostParams) (*Post, error) {
	env, err := c.call(
		ctx, "PUT",
		fmt.Sprintf("/update/%d?secret=%s", id, url.QueryEscape(c.secret)),
		params,
	)
	if err != nil {
		return nil, err
	}
	return post(env)
}

func (c *Client) Delete(ctx context.Context, id int) (*Post, error) {
	env, err := c.call(
		ctx, "DELETE",
		fmt.Sprintf("/delete/%d?secret=%s", id, url.QueryEscape(c.secret)),
		nil,
	)
	if err != nil {
		return nil, err
	}
	return post(env)
}

func (c *Client) call(ctx context.Context, method, path string, payload any) (*envelope, error) {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response bytes: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBytes, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response envelope [status %d]: %w", resp.StatusCode, err)
	}

	if !env.Success {
		return nil, &APIError{
			StatusCode: env.StatusCode,
			Message:    env.Message,
		}
	}

	return &env, nil
}

func post(env *envelope) (*Post, error) {
	var p Post
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal post: %w", err)
	}
	return &p, nil
}

func postsPage(env *envelope) (*PostsPage, error) {
	page := &PostsPage{}
	if err := json.Unmarshal(env.Data, &page.Posts); err != nil {
		return nil, fmt.Errorf("unmarshal posts: %w", err)
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	return page, nil
}
