package blog

import "strconv"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

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

// SanitizePageParams turns raw query values into paging values safe to
// run against the database. Missing or invalid values fall back to the
// defaults, oversized limits get clamped.
func SanitizePageParams(pageStr, limitStr string) (page, limit int) {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	limit, err = strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	return page, limit
}

func NewPagination(totalItems, page, limit int) Pagination {
	totalPages := totalItems / limit
	if totalItems%limit != 0 {
		totalPages++
	}

	p := Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   totalItems,
		ItemsPerPage: limit,
		HasNextPage:  page < totalPages,
		HasPrevPage:  page > 1,
	}

	if p.HasNextPage {
		nextPage := page + 1
		p.NextPage = &nextPage
	}
	if p.HasPrevPage {
		prevPage := page - 1
		p.PrevPage = &prevPage
	}

	return p
}

// Offset converts the 1-based page into the row offset for the query.
func Offset(page, limit int) int {
	return (page - 1) * limit
}
