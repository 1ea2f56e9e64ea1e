package blog

import (
	"time"
)

type Post struct {
	ID        int       `json:"blog_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	Thumbnail *string   `json:"thumbnail"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AddPostParams struct {
	Title     string
	Content   string
	Tags      []string
	Category  string
	Thumbnail *string
}

// UpdatePostParams carries a partial update. Nil fields are left
// untouched; updated_at is refreshed regardless.
type UpdatePostParams struct {
	Title     *string
	Content   *string
	Tags      []string
	Category  *string
	Thumbnail *string
}

func (p UpdatePostParams) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Tags == nil &&
		p.Category == nil && p.Thumbnail == nil
}
