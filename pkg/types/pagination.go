package types

import "time"

// DateRange bounds a query by creation time. Either end may be nil.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// PaginationArgs selects a page. PerPage <= 0 selects the operation default.
type PaginationArgs struct {
	Page      int        `json:"page"`
	PerPage   int        `json:"perPage"`
	DateRange *DateRange `json:"dateRange,omitempty"`
}

// PaginationInfo describes a returned page.
type PaginationInfo struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"perPage"`
	HasMore bool `json:"hasMore"`
}

// NewPaginationInfo computes HasMore as offset+returned < total.
func NewPaginationInfo(total, page, perPage, returned int) PaginationInfo {
	return PaginationInfo{
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: page*perPage+returned < total,
	}
}
