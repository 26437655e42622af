package shared

// Page bounds a list query with limit/offset semantics.
type Page struct {
	Limit  int
	Offset int
}

// ClampPage normalises limit/offset to sane bounds.
func ClampPage(limit, offset, defaultLimit, maxLimit int) Page {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
