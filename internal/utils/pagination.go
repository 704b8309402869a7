// Package utils holds small helpers shared by the HTTP and service layers.
// They carry no domain knowledge.
package utils

import (
	"strconv"
	"strings"
)

// Window is a normalized offset page request.
type Window struct {
	Limit int
	Skip  int
}

// QueryInt parses a query-string integer. Empty or malformed values yield def.
//
//	utils.QueryInt("42", 0)  // 42
//	utils.QueryInt("", 20)   // 20
//	utils.QueryInt("x", 5)   // 5
func QueryInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampWindow maps limit <= 0 to def, caps it at maxLimit and raises a
// negative skip to zero.
func ClampWindow(limit, skip, def, maxLimit int) Window {
	if limit <= 0 {
		limit = def
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return Window{Limit: limit, Skip: max(skip, 0)}
}

// HasMore reports whether rows remain after a page of n rows read at skip.
func HasMore(total int64, skip, n int) bool {
	return total > int64(skip+n)
}
