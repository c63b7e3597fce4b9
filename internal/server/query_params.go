package server

import (
	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/pkg/db/pagination"
)

// paginate applies cursor pagination to an ordered result set. The
// cursor pins the last ID the client saw; items keep the order the
// repository returned them in.
func paginate[T any](c *gin.Context, items []T, id func(T) string) ([]T, *pagination.PageInfo, error) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		return nil, nil, ErrInvalidRequest
	}
	if p.PageSize <= 0 {
		p.PageSize = 25
	}
	if p.PageSize > 250 {
		p.PageSize = 250
	}

	start := 0
	if p.PageToken != "" {
		cursor, err := pagination.DecodeCursor(p.PageToken)
		if err != nil {
			return nil, nil, ErrInvalidRequest
		}
		for i := range items {
			if id(items[i]) == cursor.ID {
				start = i + 1
				break
			}
		}
	}

	end := start + p.PageSize
	hasMore := end < len(items)
	if end > len(items) {
		end = len(items)
	}
	page := items[start:end]

	info := &pagination.PageInfo{HasMore: hasMore}
	if hasMore && len(page) > 0 {
		if token, err := pagination.EncodeCursor(pagination.Cursor{ID: id(page[len(page)-1])}); err == nil {
			info.NextPageToken = token
		}
	}
	return page, info, nil
}
