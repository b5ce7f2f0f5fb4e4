package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination is the cursor query contract shared by list endpoints.
// Out-of-range limits are clamped rather than rejected.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=50"`
}

const (
	defaultLimit = 50
	maxLimit     = 250
)

func (p Pagination) ClampedLimit() int {
	switch {
	case p.Limit <= 0:
		return defaultLimit
	case p.Limit > maxLimit:
		return maxLimit
	}
	return p.Limit
}

// Cursor points at the last row of the previous page. Payout ids are
// snowflakes, so id order is creation order and the id alone is a stable
// cursor.
type Cursor struct {
	ID string `json:"id"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
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

// Page trims an over-fetched result (limit+1 rows) to the page size and
// derives the paging metadata from what was cut off.
func Page[T any](rows []*T, limit int, cursorOf func(*T) string) ([]*T, *PageInfo) {
	if len(rows) <= limit {
		return rows, &PageInfo{HasMore: false}
	}

	rows = rows[:limit]
	return rows, &PageInfo{
		HasMore:    true,
		NextCursor: cursorOf(rows[len(rows)-1]),
	}
}
