package pagination

import (
	"fmt"
	"strconv"
	"time"

	"skillswap-backend/pkg/constants"
)

// CursorParams is a keyset page request: items strictly older than Before
type CursorParams struct {
	Before time.Time
	Limit  int
}

// CursorResponse represents a page of results and the cursor for the next one
type CursorResponse struct {
	Items      interface{} `json:"items"`
	Limit      int         `json:"limit"`
	NextBefore *time.Time  `json:"next_before,omitempty"`
}

// ParseLimit parses limit, defaulting to constants.DefaultPageSize and clamping
// to [1, constants.MaxPageSize]
func ParseLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return constants.DefaultPageSize, nil
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	switch {
	case l < 1:
		return 1, nil
	case l > constants.MaxPageSize:
		return constants.MaxPageSize, nil
	}
	return l, nil
}

// ParseCursorParams parses the before (RFC 3339) and limit query values. An
// empty before starts from now.
func ParseCursorParams(beforeStr, limitStr string, now time.Time) (*CursorParams, error) {
	limit, err := ParseLimit(limitStr)
	if err != nil {
		return nil, err
	}

	before := now
	if beforeStr != "" {
		before, err = time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid before parameter: %w", err)
		}
	}

	return &CursorParams{Before: before, Limit: limit}, nil
}

// BuildCursorResponse wraps items. A full page carries last as the next cursor.
func BuildCursorResponse(params *CursorParams, items interface{}, count int, last time.Time) *CursorResponse {
	resp := &CursorResponse{Items: items, Limit: params.Limit}
	if count >= params.Limit {
		next := last
		resp.NextBefore = &next
	}
	return resp
}
