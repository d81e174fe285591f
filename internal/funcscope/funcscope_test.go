package funcscope

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
)

type fakeNode struct {
	kind       string
	start, end int
	sb, eb     int
	kids       []*fakeNode
}

func (n *fakeNode) Kind() string   { return n.kind }
func (n *fakeNode) StartLine() int { return n.start }
func (n *fakeNode) EndLine() int   { return n.end }
func (n *fakeNode) StartByte() int { return n.sb }
func (n *fakeNode) EndByte() int   { return n.eb }
func (n *fakeNode) Children() []Node {
	out := make([]Node, len(n.kids))
	for i, k := range n.kids {
		out[i] = k
	}
	return out
}

func fn(start, end int, kids ...*fakeNode) *fakeNode {
	return &fakeNode{kind: "function_definition", start: start, end: end, kids: kids}
}

func block(start, end int, kids ...*fakeNode) *fakeNode {
	return &fakeNode{kind: "block", start: start, end: end, kids: kids}
}

func anchors(matches []Match) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Anchor
	}
	return out
}

func TestLocate_outerFunctionWins(t *testing.T) {
	t.Parallel()
	inner := fn(10, 15)
	outer := fn(1, 20, block(2, 19, inner))
	root := block(1, 30, outer)

	matches := Locate(root, diff.LineSet{12}, "function_definition")

	require.Len(t, matches, 1)
	assert.Same(t, outer, matches[0].Node)
	assert.Equal(t, 12, matches[0].Anchor)
	assert.Equal(t, diff.LineSet{12}, matches[0].Claimed)
}

func TestLocate_twoDisjointFunctions(t *testing.T) {
	t.Parallel()
	first := fn(1, 5)
	second := fn(7, 12)
	root := block(1, 12, first, second)

	matches := Locate(root, diff.LineSet{3, 9}, "function_definition")

	require.Len(t, matches, 2)
	assert.Same(t, first, matches[0].Node)
	assert.Same(t, second, matches[1].Node)
	assert.Equal(t, []int{3, 9}, anchors(matches))
}

func TestLocate_anchorIsSmallestClaimedLine(t *testing.T) {
	t.Parallel()
	root := block(1, 40, fn(10, 30))

	matches := Locate(root, diff.LineSet{2, 14, 22, 29, 35}, "function_definition")

	require.Len(t, matches, 1)
	assert.Equal(t, 14, matches[0].Anchor)
	assert.Equal(t, diff.LineSet{14, 22, 29}, matches[0].Claimed)
}

func TestLocate_secondSiblingClaimsBeforeItsNestedFunction(t *testing.T) {
	t.Parallel()
	inner := fn(10, 15)
	outer := fn(1, 20, inner)
	sibling := fn(25, 30, fn(26, 28))
	root := block(1, 30, outer, sibling)

	matches := Locate(root, diff.LineSet{27}, "function_definition")

	require.Len(t, matches, 1)
	assert.Same(t, sibling, matches[0].Node)
}

func TestLocate_nestedUnitsReachedThroughNonUnitParents(t *testing.T) {
	t.Parallel()
	// A method inside a class: the class itself is not a unit.
	method := &fakeNode{kind: "method_declaration", start: 3, end: 6}
	class := &fakeNode{kind: "class_declaration", start: 1, end: 10, kids: []*fakeNode{
		{kind: "class_body", start: 2, end: 10, kids: []*fakeNode{method}},
	}}
	root := &fakeNode{kind: "program", start: 1, end: 10, kids: []*fakeNode{class}}

	matches := Locate(root, diff.LineSet{1, 4, 9}, "method_declaration")

	require.Len(t, matches, 1)
	assert.Same(t, method, matches[0].Node)
	assert.Equal(t, diff.LineSet{4}, matches[0].Claimed)
}

func TestLocate_noMatches(t *testing.T) {
	t.Parallel()
	root := block(1, 10, fn(1, 3))

	assert.Empty(t, Locate(root, diff.LineSet{5, 6}, "function_definition"))
	assert.Empty(t, Locate(root, nil, "function_definition"))
	assert.Empty(t, Locate(nil, diff.LineSet{1}, "function_definition"))
	assert.Empty(t, Locate(root, diff.LineSet{1}, ""))
}

func TestLocate_doesNotMutateInput(t *testing.T) {
	t.Parallel()
	changed := diff.LineSet{1, 2, 8, 9}
	root := block(1, 10, fn(1, 3), fn(7, 10))

	Locate(root, changed, "function_definition")

	assert.Equal(t, diff.LineSet{1, 2, 8, 9}, changed)
}

// randomTree builds nested nodes over [start, end] where roughly a third of
// the nodes are units.
func randomTree(r *rand.Rand, start, end, depth int) *fakeNode {
	kind := "block"
	if r.Intn(3) == 0 {
		kind = "function_definition"
	}
	n := &fakeNode{kind: kind, start: start, end: end}
	if depth == 0 || end-start < 2 {
		return n
	}
	cursor := start
	for cursor < end && r.Intn(4) != 0 {
		s := cursor + r.Intn(3)
		if s > end {
			break
		}
		e := s + r.Intn(end-s+1)
		n.kids = append(n.kids, randomTree(r, s, e, depth-1))
		cursor = e + 1
	}
	return n
}

func unitLines(n *fakeNode, lines diff.LineSet, into map[int]bool) {
	if n.kind == "function_definition" {
		for _, l := range lines {
			if l >= n.start && l <= n.end {
				into[l] = true
			}
		}
	}
	for _, k := range n.kids {
		unitLines(k, lines, into)
	}
}

func TestLocate_partitionsChangedLines(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		root := randomTree(r, 1, 120, 5)
		var raw []int
		n := r.Intn(30)
		for j := 0; j < n; j++ {
			raw = append(raw, 1+r.Intn(120))
		}
		changed := diff.NewLineSet(raw...)

		matches := Locate(root, changed, "function_definition")

		want := map[int]bool{}
		unitLines(root, changed, want)
		got := map[int]bool{}
		for _, m := range matches {
			require.NotEmpty(t, m.Claimed)
			assert.Equal(t, m.Claimed[0], m.Anchor)
			for _, l := range m.Claimed {
				require.False(t, got[l], "line %d claimed twice", l)
				require.GreaterOrEqual(t, l, m.Node.StartLine())
				require.LessOrEqual(t, l, m.Node.EndLine())
				got[l] = true
			}
		}
		if d := cmp.Diff(want, got); d != "" {
			t.Fatalf("tree %d: claimed lines mismatch (-want +got):\n%s", i, d)
		}
	}
}

func TestExtract_roundTripsByteSpan(t *testing.T) {
	t.Parallel()
	src := []byte("x = 1\ndef f(a, b):\n    return a + b  # sum\n")
	start := strings.Index(string(src), "def")
	n := &fakeNode{kind: "function_definition", start: 2, end: 3, sb: start, eb: len(src) - 1}

	got, err := Extract(n, src)

	require.NoError(t, err)
	assert.Equal(t, string(src[start:len(src)-1]), got)
	assert.Equal(t, "def f(a, b):\n    return a + b  # sum", got)
}

func TestExtract_failsLoudly(t *testing.T) {
	t.Parallel()
	src := []byte("ok\xff\xfe")

	tests := []struct {
		name   string
		sb, eb int
		reason string
	}{
		{"past end", 0, 10, "exceeds source length"},
		{"inverted", 3, 1, "invalid byte span"},
		{"invalid utf8", 0, 4, "not valid UTF-8"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(&fakeNode{kind: "function_definition", sb: tt.sb, eb: tt.eb}, src)
			var extractErr *ExtractError
			require.ErrorAs(t, err, &extractErr)
			assert.Contains(t, extractErr.Reason, tt.reason)
		})
	}
}

func TestUnits_keepsSiblingsWhenOneFails(t *testing.T) {
	t.Parallel()
	src := []byte("def a():\n    pass\ndef b():\n    pass\n")
	good := &fakeNode{kind: "function_definition", start: 1, end: 2, sb: 0, eb: 17}
	bad := &fakeNode{kind: "function_definition", start: 3, end: 4, sb: 18, eb: 999}
	root := &fakeNode{kind: "module", start: 1, end: 4, eb: len(src), kids: []*fakeNode{good, bad}}

	units, err := Units("a.py", root, diff.LineSet{2, 4}, "function_definition", src)

	require.Len(t, units, 1)
	assert.Equal(t, "def a():\n    pass", units[0].Body)
	assert.Equal(t, 2, units[0].Anchor)
	assert.Equal(t, "a.py", units[0].File)

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var unitErr *UnitError
	require.True(t, errors.As(errs[0], &unitErr))
	assert.Equal(t, 4, unitErr.Anchor)
	var extractErr *ExtractError
	assert.True(t, errors.As(err, &extractErr))
}
