package diff

import "sort"

// LineSet is a strictly increasing sequence of positive 1-based line
// numbers. A LineSet is never modified after construction; narrowing
// returns a new set.
type LineSet []int

// NewLineSet sorts and de-duplicates lines, dropping non-positive values.
func NewLineSet(lines ...int) LineSet {
	v := make([]int, 0, len(lines))
	for _, l := range lines {
		if l > 0 {
			v = append(v, l)
		}
	}
	if len(v) == 0 {
		return nil
	}
	return LineSet(sortedUnique(v))
}

func (s LineSet) Len() int { return len(s) }

func (s LineSet) Empty() bool { return len(s) == 0 }

// Within returns the half-open index range [lo, hi) of values inside the
// inclusive line span [start, end]. lo == hi when none fall inside.
func (s LineSet) Within(start, end int) (lo, hi int) {
	lo = sort.SearchInts(s, start)
	hi = sort.SearchInts(s, end+1)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Without returns a new set with the values at indexes [lo, hi) removed.
func (s LineSet) Without(lo, hi int) LineSet {
	if lo >= hi {
		return s
	}
	out := make(LineSet, 0, len(s)-(hi-lo))
	out = append(out, s[:lo]...)
	return append(out, s[hi:]...)
}

// Contains reports whether line is in the set.
func (s LineSet) Contains(line int) bool {
	i := sort.SearchInts(s, line)
	return i < len(s) && s[i] == line
}
