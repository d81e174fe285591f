// Package diff extracts post-change line numbers from unified diff hunks.
package diff

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// @@ -oldStart[,oldCount] +newStart[,newCount] @@
var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// MalformedHunkError reports a hunk header that does not match the unified
// diff format. The hunk it introduces is skipped.
type MalformedHunkError struct {
	LineNo int
	Header string
	Err    error
}

func (e *MalformedHunkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed hunk header at patch line %d %q: %v", e.LineNo, e.Header, e.Err)
	}
	return fmt.Sprintf("malformed hunk header at patch line %d %q", e.LineNo, e.Header)
}

func (e *MalformedHunkError) Unwrap() error { return e.Err }

// Hunk is the header information of one hunk.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
}

// ChangedLines returns the post-change line numbers added or modified by
// patch. Malformed hunk headers are logged and their hunks skipped.
func ChangedLines(patch string, logger zerolog.Logger) LineSet {
	lines, malformed := ParseChangedLines(patch)
	for _, m := range malformed {
		logger.Warn().
			Int("patch_line", m.LineNo).
			Str("header", m.Header).
			Err(m.Err).
			Msg("Skipping malformed hunk")
	}
	return lines
}

// ParseChangedLines is ChangedLines without logging; malformed headers are
// returned to the caller instead.
func ParseChangedLines(patch string) (LineSet, []*MalformedHunkError) {
	var (
		changed   []int
		malformed []*MalformedHunkError
		cursor    int
		// Lines of the current hunk not yet seen on each side. The hunk
		// ends once both reach zero; whatever follows until the next
		// header, such as the next file's ---/+++ lines, is not content.
		oldLeft, newLeft int
	)

	for i, line := range strings.Split(patch, "\n") {
		lineNo := i + 1
		inHunk := oldLeft > 0 || newLeft > 0
		switch {
		case strings.HasPrefix(line, "@@"):
			h, err := parseHeader(line)
			if err != nil {
				malformed = append(malformed, &MalformedHunkError{LineNo: lineNo, Header: line, Err: err})
				oldLeft, newLeft = 0, 0
			} else {
				cursor = h.NewStart
				oldLeft, newLeft = h.OldCount, h.NewCount
			}
		case !inHunk:
			// Outside a valid hunk nothing maps onto the new file.
		case strings.HasPrefix(line, "+"):
			changed = append(changed, cursor)
			cursor++
			newLeft--
		case strings.HasPrefix(line, "-"):
			oldLeft--
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		default:
			cursor++
			oldLeft--
			newLeft--
		}
	}

	return NewLineSet(changed...), malformed
}

// Hunks returns the headers of every well-formed hunk in patch.
func Hunks(patch string) []Hunk {
	var hunks []Hunk
	for _, line := range strings.Split(patch, "\n") {
		if !strings.HasPrefix(line, "@@") {
			continue
		}
		if h, err := parseHeader(line); err == nil {
			hunks = append(hunks, h)
		}
	}
	return hunks
}

func parseHeader(line string) (Hunk, error) {
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, fmt.Errorf("does not match %s", hunkHeader)
	}

	var (
		h   Hunk
		err error
	)
	if h.OldStart, err = strconv.Atoi(m[1]); err != nil {
		return Hunk{}, err
	}
	if h.OldCount, err = count(m[2]); err != nil {
		return Hunk{}, err
	}
	if h.NewStart, err = strconv.Atoi(m[3]); err != nil {
		return Hunk{}, err
	}
	if h.NewCount, err = count(m[4]); err != nil {
		return Hunk{}, err
	}
	return h, nil
}

// count parses an optional hunk line count, which defaults to 1.
func count(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	return strconv.Atoi(s)
}

func sortedUnique(v []int) []int {
	slices.Sort(v)
	return slices.Compact(v)
}
