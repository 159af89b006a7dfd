package execstore

import (
	"sort"
	"strconv"
)

// Cursors are plain stringified offsets into the sorted result set. Stable
// under a snapshot-per-call read pattern; a concurrent insert between pages
// can shift results, which is an accepted tradeoff over exposing row IDs.
func encodeCursor(offset int) string {
	return strconv.Itoa(offset)
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func sortStable(items []*Execution, less func(i, j int) bool) {
	sort.SliceStable(items, less)
}
