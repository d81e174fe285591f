// Package output prints review results to the terminal.
package output

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/ysxu666/llm-mr-reviewer/internal/types"
)

// Collector is a poster that keeps comments in memory instead of publishing
// them. It backs local runs and dry runs.
type Collector struct {
	mu       sync.Mutex
	comments []types.ReviewComment
}

func (c *Collector) Post(ctx context.Context, file string, line int, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments = append(c.comments, types.ReviewComment{FilePath: file, Line: line, Comment: body})
	return nil
}

// Comments returns a copy of everything posted so far.
func (c *Collector) Comments() []types.ReviewComment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ReviewComment(nil), c.comments...)
}

func PrintLocal(w io.Writer, comments []types.ReviewComment) {
	if len(comments) == 0 {
		fmt.Fprint(w, "\n✅ All clear! No issues found.\n\n")
		return
	}

	byFile := make(map[string][]types.ReviewComment)
	for _, c := range comments {
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}

	var files []string
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintln(w, "\n"+strings.Repeat("═", 80))
	fmt.Fprintln(w, "📋 CODE REVIEW RESULTS")
	fmt.Fprintln(w, strings.Repeat("═", 80)+"\n")

	for _, file := range files {
		fileComments := byFile[file]

		fmt.Fprintf(w, "📄 %s\n", file)
		fmt.Fprintln(w, strings.Repeat("─", 80))

		sort.SliceStable(fileComments, func(i, j int) bool {
			return fileComments[i].Line < fileComments[j].Line
		})

		for _, c := range fileComments {
			fmt.Fprintf(w, "  💬 Line %d\n", c.Line)
			// 76 = 80 minus the indent
			for _, line := range strings.Split(wrapParagraphs(c.Comment, 76), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w, strings.Repeat("═", 80))
	fmt.Fprintf(w, "Found %d comment(s) across %d file(s)\n", len(comments), len(files))
	fmt.Fprintln(w, strings.Repeat("═", 80)+"\n")
}

// Summary counts what happened across a run.
type Summary struct {
	Files    int
	Skipped  int
	Units    int
	Reviewed int
	Posted   int
	Failed   int
}

// Summarize tallies the reports and returns every failure they carry.
func Summarize(reports []types.FileReport) (Summary, error) {
	var (
		s    Summary
		errs error
	)
	for _, r := range reports {
		s.Files++
		if r.Skipped {
			s.Skipped++
		}
		if r.Err != nil {
			s.Failed++
		}
		for _, res := range r.Results {
			s.Units++
			switch {
			case res.Err != nil:
				s.Failed++
			case res.Posted:
				s.Reviewed++
				s.Posted++
			default:
				s.Reviewed++
			}
		}
		errs = multierr.Append(errs, r.Failures())
	}
	return s, errs
}

func PrintSummary(w io.Writer, s Summary, err error) {
	fmt.Fprintf(w, "📊 %d file(s), %d skipped, %d function(s): %d reviewed, %d posted, %d failed\n",
		s.Files, s.Skipped, s.Units, s.Reviewed, s.Posted, s.Failed)
	for _, e := range multierr.Errors(err) {
		fmt.Fprintf(w, "  ❌ %v\n", e)
	}
}

// wrapParagraphs word-wraps each line of text separately so that the
// model's own line breaks survive.
func wrapParagraphs(text string, width int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = wordWrap(line, width)
	}
	return strings.Join(lines, "\n")
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	var currentLine []string
	currentLength := 0

	for _, word := range words {
		wordLen := len(word)
		// +1 for the space before the word
		if currentLength > 0 && currentLength+wordLen+1 > width {
			lines = append(lines, strings.Join(currentLine, " "))
			currentLine = []string{word}
			currentLength = wordLen
		} else {
			currentLine = append(currentLine, word)
			if currentLength > 0 {
				currentLength++
			}
			currentLength += wordLen
		}
	}

	if len(currentLine) > 0 {
		lines = append(lines, strings.Join(currentLine, " "))
	}

	return strings.Join(lines, "\n")
}
