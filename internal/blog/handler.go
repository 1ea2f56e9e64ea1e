package blog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/bsimic/blogbox/internal/auth"
	"github.com/bsimic/blogbox/internal/cache"
	"github.com/bsimic/blogbox/internal/imagestore"
	"github.com/bsimic/blogbox/internal/telemetry/metrics"
	"github.com/bsimic/blogbox/pkg"
)

// maxThumbnailBytes caps thumbnail uploads at 5 MB.
const maxThumbnailBytes = 5 << 20

const minSearchTermLength = 2

type newPostRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
}

// validate checks the fields every new post must carry, returning a
// rejection message or "" when the request is fine.
func (req newPostRequest) validate() string {
	switch {
	case req.Title == "":
		return "title is required"
	case req.Content == "":
		return "content is required"
	case len(req.Tags) == 0:
		return "tags are required"
	case req.Category == "":
		return "category is required"
	}
	return ""
}

type updatePostRequest struct {
	Title    *string  `json:"title"`
	Content  *string  `json:"content"`
	Tags     []string `json:"tags"`
	Category *string  `json:"category"`
}

type readPostResponse struct {
	*Post
	Related []Post `json:"related"`
}

type postsRepo interface {
	Add(ctx context.Context, params AddPostParams) (*Post, error)
	Get(ctx context.Context, id int) (*Post, error)
	Update(ctx context.Context, id int, params UpdatePostParams) (*Post, error)
	Delete(ctx context.Context, id int) (*Post, error)
	List(ctx context.Context, limit, offset int) ([]Post, error)
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, term string, limit, offset int) ([]Post, error)
	SearchCount(ctx context.Context, term string) (int, error)
	Related(ctx context.Context, tags []string, excludeID int) ([]Post, error)
	Recent(ctx context.Context) ([]Post, error)
}

type Handler struct {
	repo          postsRepo
	imageStore    imagestore.Store
	secretChecker auth.Checker
	postsCache    *cache.PostsCache
	metrics       *metrics.Manager
	stagingDir    string
	rw            *responseWriter
}

type NewHandlerParams struct {
	Repo          postsRepo
	ImageStore    imagestore.Store
	SecretChecker auth.Checker
	PostsCache    *cache.PostsCache
	Metrics       *metrics.Manager
	StagingDir    string
	DevMode       bool
}

func NewHandler(params NewHandlerParams) *Handler {
	return &Handler{
		repo:          params.Repo,
		imageStore:    params.ImageStore,
		secretChecker: params.SecretChecker,
		postsCache:    params.PostsCache,
		metrics:       params.Metrics,
		stagingDir:    params.StagingDir,
		rw:            &responseWriter{devMode: params.DevMode},
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/create", handler.handleCreate).Methods("POST", "OPTIONS").Name("create-post")
	router.HandleFunc("/update/{id}", handler.handleUpdate).Methods("PUT", "OPTIONS").Name("update-post")
	router.HandleFunc("/delete/{id}", handler.handleDelete).Methods("DELETE", "OPTIONS").Name("delete-post")
	router.HandleFunc("/read/{id}", handler.handleRead).Methods("GET").Name("read-post")
	router.HandleFunc("/readall", handler.handleReadAll).Methods("GET").Name("read-all-posts")
	router.HandleFunc("/recent", handler.handleRecent).Methods("GET").Name("recent-posts")
	router.HandleFunc("/search", handler.handleSearch).Methods("GET").Name("search-posts")
}

// requestSecret digs the shared secret out of the request: the secret
// query param, or the signature / secret form fields.
func requestSecret(r *http.Request) string {
	if secret := r.URL.Query().Get("secret"); secret != "" {
		return secret
	}
	if signature := r.PostFormValue("signature"); signature != "" {
		return signature
	}
	return r.PostFormValue("secret")
}

func (handler *Handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if handler.secretChecker.SecretValid(requestSecret(r)) {
		return true
	}
	clientIP, err := pkg.ReadUserIP(r)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	log.Warnf("unauthorized %s %s from %s", r.Method, r.URL.Path, clientIP)
	handler.rw.writeError(w, r, http.StatusForbidden, "invalid secret")
	return false
}

func (handler *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var newPostReq newPostRequest
	var thumbnailFile *multipartThumbnail

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&newPostReq); err != nil {
			log.Errorf("create post, unmarshal json params: %s", err)
			handler.rw.writeError(w, r, http.StatusBadRequest, "invalid request payload")
			return
		}
	} else {
		if err := r.ParseMultipartForm(maxThumbnailBytes); err != nil {
			log.Errorf("create post, parse multipart form: %s", err)
			handler.rw.writeError(w, r, http.StatusBadRequest, "invalid form data")
			return
		}
		newPostReq = newPostRequest{
			Title:    r.PostFormValue("title"),
			Content:  r.PostFormValue("content"),
			Tags:     formTags(r),
			Category: r.PostFormValue("category"),
		}
		var ok bool
		if thumbnailFile, ok = openFormThumbnail(w, r, handler.rw); !ok {
			return
		}
	}

	// validation comes before the secret check, a broken request is a
	// 400 no matter who sent it
	newPostReq.Title = strings.TrimSpace(newPostReq.Title)
	newPostReq.Content = strings.TrimSpace(newPostReq.Content)
	newPostReq.Category = strings.TrimSpace(newPostReq.Category)
	if message := newPostReq.validate(); message != "" {
		if thumbnailFile != nil {
			_ = thumbnailFile.file.Close()
		}
		handler.rw.writeError(w, r, http.StatusBadRequest, message)
		return
	}

	if !handler.authorized(w, r) {
		if thumbnailFile != nil {
			_ = thumbnailFile.file.Close()
		}
		return
	}

	addParams := AddPostParams{
		Title:    newPostReq.Title,
		Content:  newPostReq.Content,
		Tags:     newPostReq.Tags,
		Category: newPostReq.Category,
	}

	if thumbnailFile != nil {
		thumbnailURL, err := handler.uploadThumbnail(r.Context(), thumbnailFile)
		if err != nil {
			log.Errorf("create post, upload thumbnail: %s", err)
			handler.rw.writeError(w, r, http.StatusInternalServerError, "thumbnail upload failed")
			return
		}
		addParams.Thumbnail = &thumbnailURL
	}

	post, err := handler.repo.Add(r.Context(), addParams)
	if err != nil {
		log.Errorf("create post: %s", err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to create post")
		return
	}

	log.Tracef("new post %d: [%s] added", post.ID, post.Title)
	handler.metrics.CounterPostsCreated.Inc()
	handler.postsCache.InvalidateRecent()

	handler.rw.writeResponse(w, r, http.StatusCreated, "post created", post, nil)
}

func (handler *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.postID(w, r)
	if !ok {
		return
	}

	var updateReq updatePostRequest
	var tagsSet bool
	var thumbnailFile *multipartThumbnail

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&updateReq); err != nil {
			log.Errorf("update post, unmarshal json params: %s", err)
			handler.rw.writeError(w, r, http.StatusBadRequest, "invalid request payload")
			return
		}
		tagsSet = updateReq.Tags != nil
	} else {
		if err := r.ParseMultipartForm(maxThumbnailBytes); err != nil {
			log.Errorf("update post, parse multipart form: %s", err)
			handler.rw.writeError(w, r, http.StatusBadRequest, "invalid form data")
			return
		}
		updateReq.Title = formStringField(r, "title")
		updateReq.Content = formStringField(r, "content")
		updateReq.Category = formStringField(r, "category")
		if _, ok := r.MultipartForm.Value["tags"]; ok {
			updateReq.Tags = formTags(r)
			tagsSet = true
		}
		var ok bool
		if thumbnailFile, ok = openFormThumbnail(w, r, handler.rw); !ok {
			return
		}
	}

	// a blank field means "leave it alone", same as an absent one;
	// title and content may never end up empty
	updateReq.Title = nonBlank(updateReq.Title)
	updateReq.Content = nonBlank(updateReq.Content)
	updateReq.Category = nonBlank(updateReq.Category)

	if !handler.authorized(w, r) {
		if thumbnailFile != nil {
			_ = thumbnailFile.file.Close()
		}
		return
	}

	existing, err := handler.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			handler.rw.writeError(w, r, http.StatusNotFound, "post not found")
			return
		}
		log.Errorf("update post %d, get: %s", id, err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to update post")
		return
	}

	updateParams := UpdatePostParams{
		Title:    updateReq.Title,
		Content:  updateReq.Content,
		Category: updateReq.Category,
	}
	if tagsSet {
		updateParams.Tags = updateReq.Tags
		if updateParams.Tags == nil {
			updateParams.Tags = []string{}
		}
	}

	if thumbnailFile != nil {
		thumbnailURL, err := handler.uploadThumbnail(r.Context(), thumbnailFile)
		if err != nil {
			log.Errorf("update post %d, upload thumbnail: %s", id, err)
			handler.rw.writeError(w, r, http.StatusInternalServerError, "thumbnail upload failed")
			return
		}
		updateParams.Thumbnail = &thumbnailURL
	}

	if updateParams.Empty() {
		handler.rw.writeError(w, r, http.StatusBadRequest, "nothing to update")
		return
	}

	updated, err := handler.repo.Update(r.Context(), id, updateParams)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			handler.rw.writeError(w, r, http.StatusNotFound, "post not found")
			return
		}
		log.Errorf("update post %d: %s", id, err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to update post")
		return
	}

	// the replaced thumbnail is orphaned now, remove it from the store
	if updateParams.Thumbnail != nil && existing.Thumbnail != nil && *existing.Thumbnail != *updateParams.Thumbnail {
		handler.removeThumbnail(r.Context(), *existing.Thumbnail)
	}

	handler.postsCache.InvalidateRecent()

	handler.rw.writeResponse(w, r, http.StatusOK, "post updated", updated, nil)
}

func (handler *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.postID(w, r)
	if !ok {
		return
	}

	if !handler.authorized(w, r) {
		return
	}

	deleted, err := handler.repo.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			handler.rw.writeError(w, r, http.StatusNotFound, "post not found")
			return
		}
		log.Errorf("delete post %d: %s", id, err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to delete post")
		return
	}

	if deleted.Thumbnail != nil {
		handler.removeThumbnail(r.Context(), *deleted.Thumbnail)
	}

	handler.metrics.CounterPostsDeleted.Inc()
	handler.postsCache.InvalidateRecent()

	handler.rw.writeResponse(w, r, http.StatusOK, "post deleted", deleted, nil)
}

func (handler *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	id, ok := handler.postID(w, r)
	if !ok {
		return
	}

	post, err := handler.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			handler.rw.writeError(w, r, http.StatusNotFound, "post not found")
			return
		}
		log.Errorf("read post %d: %s", id, err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to read post")
		return
	}

	if r.URL.Query().Get("related") == "" {
		handler.rw.writeResponse(w, r, http.StatusOK, "post retrieved", post, nil)
		return
	}

	related, err := handler.repo.Related(r.Context(), post.Tags, post.ID)
	if err != nil {
		log.Errorf("read post %d, related posts: %s", id, err)
		related = nil
	}
	if related == nil {
		related = []Post{}
	}

	handler.rw.writeResponse(w, r, http.StatusOK, "post retrieved", readPostResponse{
		Post:    post,
		Related: related,
	}, nil)
}

func (handler *Handler) handleReadAll(w http.ResponseWriter, r *http.Request) {
	page, limit := SanitizePageParams(
		r.URL.Query().Get("page"),
		r.URL.Query().Get("limit"),
	)

	totalItems, err := handler.repo.Count(r.Context())
	if err != nil {
		log.Errorf("read all posts, count: %s", err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to read posts")
		return
	}

	posts := []Post{}
	if totalItems > 0 {
		posts, err = handler.repo.List(r.Context(), limit, Offset(page, limit))
		if err != nil {
			log.Errorf("read all posts: %s", err)
			handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to read posts")
			return
		}
		if posts == nil {
			posts = []Post{}
		}
	}

	pagination := NewPagination(totalItems, page, limit)
	handler.rw.writeResponse(w, r, http.StatusOK, "posts retrieved", posts, &pagination)
}

func (handler *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	var posts []Post
	if handler.postsCache.GetRecent(&posts) {
		handler.rw.writeResponse(w, r, http.StatusOK, "recent posts retrieved", posts, nil)
		return
	}

	posts, err := handler.repo.Recent(r.Context())
	if err != nil {
		log.Errorf("recent posts: %s", err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to read posts")
		return
	}
	if posts == nil {
		posts = []Post{}
	}

	if err := handler.postsCache.SetRecent(posts); err != nil {
		log.Errorf("recent posts, cache set: %s", err)
	}

	handler.rw.writeResponse(w, r, http.StatusOK, "recent posts retrieved", posts, nil)
}

func (handler *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(term) < minSearchTermLength {
		handler.rw.writeError(
			w, r,
			http.StatusBadRequest,
			fmt.Sprintf("search term must have at least %d characters", minSearchTermLength),
		)
		return
	}

	handler.metrics.CounterSearches.Inc()

	page, limit := SanitizePageParams(
		r.URL.Query().Get("page"),
		r.URL.Query().Get("limit"),
	)

	totalItems, err := handler.repo.SearchCount(r.Context(), term)
	if err != nil {
		log.Errorf("search posts [%s], count: %s", term, err)
		handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to search posts")
		return
	}

	posts := []Post{}
	if totalItems > 0 {
		posts, err = handler.repo.Search(r.Context(), term, limit, Offset(page, limit))
		if err != nil {
			log.Errorf("search posts [%s]: %s", term, err)
			handler.rw.writeError(w, r, http.StatusInternalServerError, "failed to search posts")
			return
		}
		if posts == nil {
			posts = []Post{}
		}
	}

	pagination := NewPagination(totalItems, page, limit)
	handler.rw.writeResponse(w, r, http.StatusOK, "search results retrieved", posts, &pagination)
}

func (handler *Handler) postID(w http.ResponseWriter, r *http.Request) (int, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 1 {
		handler.rw.writeError(w, r, http.StatusBadRequest, "invalid post id")
		return 0, false
	}
	return id, true
}

type multipartThumbnail struct {
	file        io.ReadCloser
	filename    string
	contentType string
}

// openFormThumbnail pulls the optional thumbnail file out of the
// multipart form. A nil thumbnail with ok=true means no file was sent;
// ok=false means an error response was already written.
func openFormThumbnail(w http.ResponseWriter, r *http.Request, rw *responseWriter) (_ *multipartThumbnail, ok bool) {
	file, header, err := r.FormFile("thumbnail")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, true
		}
		log.Errorf("read thumbnail form file: %s", err)
		rw.writeError(w, r, http.StatusBadRequest, "invalid thumbnail file")
		return nil, false
	}

	if header.Size > maxThumbnailBytes {
		_ = file.Close()
		rw.writeError(w, r, http.StatusBadRequest, "thumbnail too large")
		return nil, false
	}

	return &multipartThumbnail{
		file:        file,
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
	}, true
}

// uploadThumbnail stages the incoming file on disk first, so that a
// broken client connection cannot leave a half-read body in flight
// towards the object store. The staged copy is always cleaned up.
func (handler *Handler) uploadThumbnail(ctx context.Context, thumbnail *multipartThumbnail) (string, error) {
	defer func() {
		if err := thumbnail.file.Close(); err != nil {
			log.Errorf("close thumbnail form file: %s", err)
		}
	}()

	staged, err := os.CreateTemp(handler.stagingDir, "thumbnail-*"+filepath.Ext(thumbnail.filename))
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if err := staged.Close(); err != nil {
			log.Errorf("close staged thumbnail: %s", err)
		}
		if err := os.Remove(staged.Name()); err != nil {
			log.Errorf("remove staged thumbnail: %s", err)
		}
	}()

	size, err := io.Copy(staged, io.LimitReader(thumbnail.file, maxThumbnailBytes))
	if err != nil {
		return "", fmt.Errorf("stage thumbnail: %w", err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind staged thumbnail: %w", err)
	}

	url, err := handler.imageStore.Upload(ctx, imagestore.UploadParams{
		Filename:    thumbnail.filename,
		ContentType: thumbnail.contentType,
		Size:        size,
		Content:     staged,
	})
	if err != nil {
		return "", err
	}

	handler.metrics.CounterThumbnailUploads.Inc()

	return url, nil
}

// removeThumbnail is best effort, an orphaned image in the store must
// never fail the post mutation it piggybacks on.
func (handler *Handler) removeThumbnail(ctx context.Context, thumbnailURL string) {
	if err := handler.imageStore.Delete(ctx, thumbnailURL); err != nil && !errors.Is(err, imagestore.ErrImageNotFound) {
		log.Errorf("remove thumbnail [%s]: %s", thumbnailURL, err)
	}
}

// nonBlank treats empty and whitespace-only values as not supplied.
func nonBlank(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func formStringField(r *http.Request, field string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}

// formTags accepts tags both as repeated form values and as a single
// comma separated value.
func formTags(r *http.Request) []string {
	values := r.PostForm["tags"]
	if len(values) == 0 {
		return nil
	}
	if len(values) == 1 {
		return pkg.SplitAndTrim(values[0])
	}
	var tags []string
	for _, v := range values {
		tags = append(tags, pkg.SplitAndTrim(v)...)
	}
	return tags
}
