package util

import (
	"strconv"
)

// ParseIntDefault 解析失败或非正数时返回 def
func ParseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
