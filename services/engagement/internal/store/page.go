package store

// DefaultPageSize is used when a caller passes a non-positive limit.
const DefaultPageSize = 5

// MaxPageSize caps a single page.
const MaxPageSize = 100

// NormalizePage clamps skip and limit to usable values.
func NormalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return skip, limit
}

func paginate[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-skip)
	copy(out, items[skip:end])
	return out
}
