package bibfile

import (
	"sort"
	"strconv"
	"strings"
)

// YearOf returns the entry's year as an integer, or 0 when missing or not numeric.
func YearOf(e *Entry) int {
	y, err := strconv.Atoi(strings.TrimSpace(e.Fields.Year()))
	if err != nil {
		return 0
	}
	return y
}

// SortByYear orders entries most recent first. Entries without a usable year
// count as year 0 and land at the end. Equal years keep their relative order.
func SortByYear(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return YearOf(entries[i]) > YearOf(entries[j])
	})
}
