package storage

import "github.com/davidbz/conductor/internal/domain"

// Paginate returns the window of items selected by page. A page past the end is empty.
func Paginate[T any](items []T, page domain.Page) []T {
	if page.Size <= 0 {
		return items
	}
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+page.Size, len(items))
	return items[offset:end]
}

// Limit returns the SQL LIMIT and OFFSET for page. LIMIT -1 means unbounded in SQLite.
func Limit(page domain.Page) (int, int) {
	if page.Size <= 0 {
		return -1, 0
	}
	return page.Size, page.Offset()
}
