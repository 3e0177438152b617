package common

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Page struct {
	Number     int   `json:"page"`
	Size       int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (p Page) HasNext() bool {
	return p.Number < p.TotalPages
}

func (p Page) HasPrevious() bool {
	return p.Number > 1
}

// PageParam reads ?page=. Anything that is not a positive integer means page 1.
func PageParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NewPage clamps number into [1, TotalPages]; an empty result has one page.
func NewPage(number, size int, total int64) Page {
	totalPages := int((total + int64(size) - 1) / int64(size))
	if totalPages < 1 {
		totalPages = 1
	}
	if number < 1 {
		number = 1
	}
	if number > totalPages {
		number = totalPages
	}
	return Page{Number: number, Size: size, Total: total, TotalPages: totalPages}
}

// Paginate counts query, clamps the page and loads that page into dest.
// query must not carry an ORDER BY yet; order is applied through orderBy.
func Paginate(query *gorm.DB, number, size int, dest interface{}, orderBy ...string) (Page, error) {
	return PaginatePreload(query, number, size, dest, nil, orderBy...)
}

// PaginatePreload is Paginate with associations preloaded on the page load
// only, keeping them out of the count query.
func PaginatePreload(query *gorm.DB, number, size int, dest interface{}, preloads []string, orderBy ...string) (Page, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page{}, err
	}

	page := NewPage(number, size, total)
	q := query.Session(&gorm.Session{})
	for _, p := range preloads {
		q = q.Preload(p)
	}
	for _, o := range orderBy {
		q = q.Order(o)
	}
	if err := q.Offset((page.Number - 1) * size).Limit(size).Find(dest).Error; err != nil {
		return Page{}, err
	}
	return page, nil
}
