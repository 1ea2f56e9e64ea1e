package blog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bsimic/blogbox/internal/telemetry/tracing"
)

var (
	ErrPostNotFound = errors.New("post not found")
)

const postColumns = `blog_id, title, content, tags, category, thumbnail, created_at, updated_at`

const createBlogsTable = `
	CREATE TABLE IF NOT EXISTS blogs (
		blog_id SERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		tags TEXT[] DEFAULT '{}',
		category VARCHAR(100),
		thumbnail VARCHAR(255),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_blogs_created_at ON blogs(created_at);
	CREATE INDEX IF NOT EXISTS idx_blogs_category ON blogs(category);
`

type Repo struct {
	db *pgxpool.Pool

	// lazy table creation: the first caller runs the DDL, concurrent
	// callers block on the same in-flight attempt, later ones no-op
	initOnce sync.Once
	initErr  error
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) ensureTable(ctx context.Context) error {
	r.initOnce.Do(func() {
		if _, err := r.db.Exec(ctx, createBlogsTable); err != nil {
			r.initErr = fmt.Errorf("create blogs table: %w", err)
			return
		}
		log.Debugln("blogs table ready")
	})
	return r.initErr
}

func (r *Repo) Add(ctx context.Context, params AddPostParams) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO blogs (title, content, tags, category, thumbnail)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+postColumns+`;`,
		params.Title, params.Content, tags, params.Category, params.Thumbnail,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	posts, err := r.rows2posts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) != 1 {
		return nil, errors.New("unexpected error, failed to insert post")
	}

	span.SetAttributes(attribute.Int("post.id", posts[0].ID))

	return &posts[0], nil
}

func (r *Repo) Get(ctx context.Context, id int) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.get")
	span.SetAttributes(attribute.Int("id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT `+postColumns+` FROM blogs WHERE blog_id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	posts, err := r.rows2posts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) != 1 {
		return nil, ErrPostNotFound
	}

	return &posts[0], nil
}

// Update applies a partial update, building the SET clause only from
// the supplied fields. updated_at is always refreshed.
func (r *Repo) Update(ctx context.Context, id int, params UpdatePostParams) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.update")
	span.SetAttributes(attribute.Int("id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	var setClauses []string
	var args []any
	addSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Title != nil {
		addSet("title", *params.Title)
	}
	if params.Content != nil {
		addSet("content", *params.Content)
	}
	if params.Tags != nil {
		addSet("tags", params.Tags)
	}
	if params.Category != nil {
		addSet("category", *params.Category)
	}
	if params.Thumbnail != nil {
		addSet("thumbnail", *params.Thumbnail)
	}
	setClauses = append(setClauses, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE blogs SET %s WHERE blog_id = $%d RETURNING %s;`,
		strings.Join(setClauses, ", "), len(args), postColumns,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	posts, err := r.rows2posts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) != 1 {
		return nil, ErrPostNotFound
	}

	return &posts[0], nil
}

// Delete removes the post and returns the removed row.
func (r *Repo) Delete(ctx context.Context, id int) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.delete")
	span.SetAttributes(attribute.Int("id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`DELETE FROM blogs WHERE blog_id = $1 RETURNING `+postColumns+`;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	posts, err := r.rows2posts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) != 1 {
		return nil, ErrPostNotFound
	}

	return &posts[0], nil
}

// List returns one page of posts, newest first. blog_id breaks
// created_at ties so that pagination stays stable.
func (r *Repo) List(ctx context.Context, limit, offset int) (_ []Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.list")
	span.SetAttributes(attribute.Int("limit", limit))
	span.SetAttributes(attribute.Int("offset", offset))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`
			SELECT `+postColumns+` FROM blogs
			ORDER BY created_at DESC, blog_id DESC
			LIMIT $1
			OFFSET $2;
		`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return r.rows2posts(rows)
}

func (r *Repo) Count(ctx context.Context) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.count")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return -1, err
	}

	rows, err := r.db.Query(ctx, `SELECT COUNT(*) FROM blogs;`)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return -1, err
	}

	if rows.Next() {
		var count int
		if err := rows.Scan(&count); err == nil {
			return count, nil
		}
	}

	return -1, errors.New("unexpected error, failed to get posts count")
}

const searchPredicate = `
	title ILIKE '%' || $1 || '%'
	OR category ILIKE '%' || $1 || '%'
	OR EXISTS (
		SELECT 1 FROM unnest(tags) AS tag
		WHERE tag ILIKE '%' || $1 || '%'
	)
`

// Search finds posts whose title, category or any tag contains the
// term, case-insensitively. Ordering matches List.
func (r *Repo) Search(ctx context.Context, term string, limit, offset int) (_ []Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.search")
	span.SetAttributes(attribute.String("term", term))
	span.SetAttributes(attribute.Int("limit", limit))
	span.SetAttributes(attribute.Int("offset", offset))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`
			SELECT `+postColumns+` FROM blogs
			WHERE `+searchPredicate+`
			ORDER BY created_at DESC, blog_id DESC
			LIMIT $2
			OFFSET $3;
		`,
		escapeLikeTerm(term), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return r.rows2posts(rows)
}

func (r *Repo) SearchCount(ctx context.Context, term string) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.searchCount")
	span.SetAttributes(attribute.String("term", term))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return -1, err
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT COUNT(*) FROM blogs WHERE `+searchPredicate+`;`,
		escapeLikeTerm(term),
	)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return -1, err
	}

	if rows.Next() {
		var count int
		if err := rows.Scan(&count); err == nil {
			return count, nil
		}
	}

	return -1, errors.New("unexpected error, failed to get search count")
}

// Related returns up to 5 newest posts sharing at least one tag with
// the given tags, excluding the post they belong to.
func (r *Repo) Related(ctx context.Context, tags []string, excludeID int) (_ []Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.related")
	span.SetAttributes(attribute.Int("exclude_id", excludeID))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	if len(tags) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(
		ctx,
		`
			SELECT `+postColumns+` FROM blogs
			WHERE blog_id <> $1 AND tags && $2
			ORDER BY created_at DESC, blog_id DESC
			LIMIT 5;
		`,
		excludeID, tags,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return r.rows2posts(rows)
}

// Recent returns the 5 newest posts.
func (r *Repo) Recent(ctx context.Context) (_ []Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.recent")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`
			SELECT `+postColumns+` FROM blogs
			ORDER BY created_at DESC, blog_id DESC
			LIMIT 5;
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return r.rows2posts(rows)
}

func (r *Repo) rows2posts(rows pgx.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var id int
		var title string
		var content string
		var tags []string
		var category *string
		var thumbnail *string
		var createdAt time.Time
		var updatedAt time.Time
		if err := rows.Scan(&id, &title, &content, &tags, &category, &thumbnail, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		post := Post{
			ID:        id,
			Title:     title,
			Content:   content,
			Tags:      tags,
			Thumbnail: thumbnail,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}
		if category != nil {
			post.Category = *category
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// escapeLikeTerm neutralizes LIKE metacharacters so that the caller
// supplied term is matched as a plain substring.
func escapeLikeTerm(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, `%`, `\%`)
	term = strings.ReplaceAll(term, `_`, `\_`)
	return term
}
