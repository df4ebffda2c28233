package store

import "strconv"

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
