// Package funcscope maps changed lines onto the function and method nodes of
// a syntax tree.
//
// Locate walks the tree in pre-order. A unit node claims every remaining
// changed line inside its span before its children are visited, so an outer
// function always wins over functions nested inside it, and a claimed line is
// never attributed again. The remaining set is threaded through the walk by
// value: each claim produces a new diff.LineSet and the caller's set is left
// untouched.
package funcscope

import (
	"github.com/ysxu666/llm-mr-reviewer/internal/diff"
)

// Node is a read-only view of one syntax tree node. Lines are 1-based and
// inclusive; bytes are offsets into the parsed source with EndByte exclusive.
type Node interface {
	Kind() string
	StartLine() int
	EndLine() int
	StartByte() int
	EndByte() int
	Children() []Node
}

// Match is a unit node together with the changed lines it claimed.
type Match struct {
	Node    Node
	Anchor  int
	Claimed diff.LineSet
}

// Locate returns, in document order, every node of kind unitKind that claims
// at least one line of changed.
func Locate(root Node, changed diff.LineSet, unitKind string) []Match {
	if root == nil || changed.Empty() || unitKind == "" {
		return nil
	}
	_, matches := locate(root, changed, unitKind, nil)
	return matches
}

// locate visits n and its subtree and returns the lines still unclaimed
// afterwards, which the caller hands to n's next sibling.
func locate(n Node, remaining diff.LineSet, unitKind string, matches []Match) (diff.LineSet, []Match) {
	if remaining.Empty() {
		return remaining, matches
	}

	if n.Kind() == unitKind {
		lo, hi := remaining.Within(n.StartLine(), n.EndLine())
		if lo < hi {
			claimed := remaining[lo:hi:hi]
			matches = append(matches, Match{
				Node:    n,
				Anchor:  claimed[0],
				Claimed: claimed,
			})
			remaining = remaining.Without(lo, hi)
		}
	}

	for _, child := range n.Children() {
		remaining, matches = locate(child, remaining, unitKind, matches)
	}
	return remaining, matches
}
