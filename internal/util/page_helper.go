package util

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageBounds turns 1-based page query values into an offset and limit.
func PageBounds(pageParam, sizeParam string) (offset, limit int) {
	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(sizeParam)
	if err != nil || limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return (page - 1) * limit, limit
}
