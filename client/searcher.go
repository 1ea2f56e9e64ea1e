package client

import (
	"context"
	"sync"
	"time"
)

const (
	defaultDebounce     = time.Second
	minSearchTermLength = 2
)

// Searcher drives a search-as-you-type flow on top of Client: raw
// query updates are debounced, and fetches switch between the plain
// post listing and the search endpoint depending on the effective
// query length.
type Searcher struct {
	client   *Client
	debounce time.Duration
	pageSize int

	mutex    sync.Mutex
	rawQuery string
	query    string // debounced
	page     int
	timer    *time.Timer
}

type NewSearcherParams struct {
	Client *Client
	// Debounce window for query updates, 1s when left zero
	Debounce time.Duration
	PageSize int
}

func NewSearcher(params NewSearcherParams) *Searcher {
	debounce := params.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Searcher{
		client:   params.Client,
		debounce: debounce,
		pageSize: pageSize,
		page:     1,
	}
}

// SetQuery records a raw query update. The effective query follows
// after the debounce window passes without further updates.
func (s *Searcher) SetQuery(query string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rawQuery = query
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.applyQuery(query)
	})
}

func (s *Searcher) applyQuery(query string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.query == query {
		return
	}
	s.query = query
	// a new effective query starts over from the first page
	s.page = 1
}

// IsSearching reports whether a search-worthy raw query is still
// waiting out its debounce window.
func (s *Searcher) IsSearching() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rawQuery != s.query && len(s.rawQuery) >= minSearchTermLength
}

// Query returns the current effective (debounced) query.
func (s *Searcher) Query() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.query
}

func (s *Searcher) Page() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.page
}

func (s *Searcher) SetPage(page int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if page < 1 {
		page = 1
	}
	s.page = page
}

// Fetch gets the current page of posts: search results when the
// effective query is long enough, otherwise the plain post listing.
func (s *Searcher) Fetch(ctx context.Context) (*PostsPage, error) {
	s.mutex.Lock()
	query := s.query
	page := s.page
	s.mutex.Unlock()

	if len(query) >= minSearchTermLength {
		return s.client.Search(ctx, query, page, s.pageSize)
	}
	return s.client.List(ctx, page, s.pageSize)
}

// Stop cancels a pending debounce timer, to be called when the
// searcher is no longer used.
func (s *Searcher) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
