// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	"github.com/dalemusser/waffle/pantry/query"
)

// PageSize is the default number of rows per page.
const PageSize = 50

// MaxPageSize caps a caller-supplied page size.
const MaxPageSize = 500

// Page is a 1-based page number and its size.
type Page struct {
	Number int
	Size   int
}

// Parse reads "page" and "per_page" from the query string. Missing or
// invalid values fall back to page 1 and PageSize; per_page is capped at
// MaxPageSize.
func Parse(r *http.Request) Page {
	p := Page{Number: 1, Size: PageSize}
	if n, err := strconv.Atoi(query.Get(r, "page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(query.Get(r, "per_page")); err == nil && n > 0 {
		p.Size = min(n, MaxPageSize)
	}
	return p
}

// Offset is the number of rows to skip for this page.
func (p Page) Offset() int64 {
	return int64((p.Number - 1) * p.Size)
}

// Limit is the page size as int64 for Mongo Find().SetLimit().
func (p Page) Limit() int64 {
	return int64(p.Size)
}

// TotalPages returns how many pages total rows fill (at least 1).
func (p Page) TotalPages(total int64) int {
	if total <= 0 || p.Size <= 0 {
		return 1
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}
