package pagination

import (
	"encoding/base64"
	"encoding/json"
)

const (
	DefaultLimit = 50
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// Normalize clamps the limit into [1, MaxLimit], defaulting when unset.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Cursor points past the last row of the previous page. ID is a
// snowflake, so (CreatedAt, ID) ordering is stable across pages.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo derives the next-page info from a result fetched
// with limit+1 rows. Callers truncate the slice themselves.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) Cursor) (PageInfo, []T) {
	if len(data) <= limit {
		return PageInfo{}, data
	}

	data = data[:limit]
	next, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return PageInfo{}, data
	}

	return PageInfo{HasMore: true, NextCursor: next}, data
}
