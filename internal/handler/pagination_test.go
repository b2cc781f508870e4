package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query string
		want  PaginationParams
	}{
		{"", PaginationParams{Limit: DefaultLimit}},
		{"?limit=10&offset=20", PaginationParams{Limit: 10, Offset: 20, Requested: true}},
		{"?limit=9999", PaginationParams{Limit: DefaultLimit, Requested: true}},
		{"?offset=-5", PaginationParams{Limit: DefaultLimit, Requested: true}},
		{"?limit=abc", PaginationParams{Limit: DefaultLimit, Requested: true}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePagination(httptest.NewRequest("GET", "/call-logs"+tt.query, nil)))
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{3, 4}, paginate(items, PaginationParams{Limit: 2, Offset: 2}))
	assert.Equal(t, []int{5}, paginate(items, PaginationParams{Limit: 10, Offset: 4}))
	assert.Equal(t, []int{}, paginate(items, PaginationParams{Limit: 10, Offset: 5}))
}
