package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type PaginationParams struct {
	Limit  int
	Offset int
	// Requested is false when the query carried neither limit nor offset.
	Requested bool
}

func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	offset = max(offset, 0)

	return PaginationParams{
		Limit:     limit,
		Offset:    offset,
		Requested: q.Has("limit") || q.Has("offset"),
	}
}

// paginate returns the requested window of items, never nil.
func paginate[T any](items []T, p PaginationParams) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}
