package parser

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/ysxu666/llm-mr-reviewer/internal/funcscope"
)

// node adapts a Tree-sitter node to funcscope.Node. Tree-sitter rows are
// zero-based; lines reported here are one-based.
type node struct {
	n *tree_sitter.Node
}

func (w node) Kind() string   { return w.n.Kind() }
func (w node) StartLine() int { return int(w.n.StartPosition().Row) + 1 }
func (w node) EndLine() int   { return int(w.n.EndPosition().Row) + 1 }
func (w node) StartByte() int { return int(w.n.StartByte()) }
func (w node) EndByte() int   { return int(w.n.EndByte()) }

func (w node) Children() []funcscope.Node {
	count := w.n.ChildCount()
	if count == 0 {
		return nil
	}
	out := make([]funcscope.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if c := w.n.Child(i); c != nil {
			out = append(out, node{n: c})
		}
	}
	return out
}
