package service

import (
	"strconv"
	"strings"
)

// IDGenerator hands out unique, increasing ids. *snowflake.Generator satisfies it.
type IDGenerator interface {
	NextID() (int64, error)
}

// ParseID parses a decimal id as sent by clients. Ids are always positive.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
