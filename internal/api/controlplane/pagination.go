package controlplane

import (
	"net/http"
	"strconv"

	"github.com/oriys/tillage/internal/api/respond"
)

type paginationMetadata struct {
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Returned   int   `json:"returned"`
	Total      int64 `json:"total"`
	HasMore    bool  `json:"has_more"`
	NextOffset *int  `json:"next_offset,omitempty"`
}

type paginatedListResponse struct {
	Items      any                `json:"items"`
	Pagination paginationMetadata `json:"pagination"`
}

func parsePaginationParam(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// estimatePaginatedTotal guesses a total without a COUNT query: a full page
// implies at least one more row.
func estimatePaginatedTotal(limit, offset, returned int) int64 {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	if returned < 0 {
		returned = 0
	}
	total := offset + returned
	if limit > 0 && returned >= limit {
		total++
	}
	return int64(total)
}

func writePaginatedList(w http.ResponseWriter, limit, offset, returned int, total int64, items any) {
	if total < 0 {
		total = int64(returned)
	}

	hasMore := int64(offset)+int64(returned) < total
	var nextOffset *int
	if hasMore {
		next := offset + returned
		nextOffset = &next
	}

	respond.JSON(w, http.StatusOK, paginatedListResponse{
		Items: items,
		Pagination: paginationMetadata{
			Limit:      limit,
			Offset:     offset,
			Returned:   returned,
			Total:      total,
			HasMore:    hasMore,
			NextOffset: nextOffset,
		},
	})
}
