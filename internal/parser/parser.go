// Package parser provides Tree-sitter based parsing for the languages the
// reviewer understands.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/ysxu666/llm-mr-reviewer/internal/funcscope"
)

// ErrUnsupportedLanguage is returned by Detect for files with no grammar.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language describes one grammar and the node kind that counts as a
// reviewable unit in it.
type Language struct {
	Name       string
	Extensions []string
	UnitKind   string

	grammar func() unsafe.Pointer
}

var languages = []Language{
	{
		Name:       "cpp",
		Extensions: []string{".cpp", ".hpp", ".h", ".tpp", ".cxx"},
		UnitKind:   "function_definition",
		grammar:    tree_sitter_cpp.Language,
	},
	{
		Name:       "python",
		Extensions: []string{".py"},
		UnitKind:   "function_definition",
		grammar:    tree_sitter_python.Language,
	},
	{
		Name:       "java",
		Extensions: []string{".java"},
		UnitKind:   "method_declaration",
		grammar:    tree_sitter_java.Language,
	},
	{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs"},
		UnitKind:   "function_declaration",
		grammar:    tree_sitter_javascript.Language,
	},
}

// Languages returns the supported languages.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Detect picks the language for filename from its extension.
func Detect(filename string) (Language, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return Language{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filename)
	}
	for _, lang := range languages {
		for _, e := range lang.Extensions {
			if e == ext {
				return lang, nil
			}
		}
	}
	return Language{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filename)
}

// ByName looks a language up by its Name.
func ByName(name string) (Language, error) {
	for _, lang := range languages {
		if lang.Name == name {
			return lang, nil
		}
	}
	return Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
}

// ParseError reports a file tree-sitter could not produce a tree for.
type ParseError struct {
	File     string
	Language string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s as %s: %v", e.File, e.Language, e.Err)
	}
	return fmt.Sprintf("parse %s as %s: no tree produced", e.File, e.Language)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser hands out Tree-sitter parsers for every supported language.
// All parsers are created by New; a Tree-sitter parser is not safe for
// concurrent use, so each one lives in a per-language pool and is checked
// out for the duration of a single Parse call.
type Parser struct {
	pools map[string]chan *tree_sitter.Parser
}

// New builds size parsers for each language.
func New(size int) (*Parser, error) {
	if size < 1 {
		size = 1
	}
	p := &Parser{pools: make(map[string]chan *tree_sitter.Parser, len(languages))}
	for _, lang := range languages {
		tsLang := tree_sitter.NewLanguage(lang.grammar())
		pool := make(chan *tree_sitter.Parser, size)
		p.pools[lang.Name] = pool
		for i := 0; i < size; i++ {
			tp := tree_sitter.NewParser()
			if err := tp.SetLanguage(tsLang); err != nil {
				tp.Close()
				p.Close()
				return nil, fmt.Errorf("set %s grammar: %w", lang.Name, err)
			}
			pool <- tp
		}
	}
	return p, nil
}

// Close releases every parser. Parsers checked out at the time are not
// closed.
func (p *Parser) Close() {
	for _, pool := range p.pools {
	drain:
		for {
			select {
			case tp := <-pool:
				tp.Close()
			default:
				break drain
			}
		}
	}
}

// Parse builds a syntax tree for content. It waits for a free parser of the
// requested language unless ctx is done first.
func (p *Parser) Parse(ctx context.Context, file string, lang Language, content []byte) (*Tree, error) {
	pool, ok := p.pools[lang.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang.Name)
	}

	var tp *tree_sitter.Parser
	select {
	case tp = <-pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { pool <- tp }()

	tree := tp.Parse(content, nil)
	if tree == nil {
		return nil, &ParseError{File: file, Language: lang.Name}
	}
	return &Tree{tree: tree, source: content}, nil
}

// Tree is a parsed file. Close must be called once the tree is no longer
// needed; nodes obtained from Root are invalid afterwards.
type Tree struct {
	tree   *tree_sitter.Tree
	source []byte
}

// Root returns the root node.
func (t *Tree) Root() funcscope.Node {
	root := t.tree.RootNode()
	if root == nil {
		return nil
	}
	return node{n: root}
}

// HasError reports whether tree-sitter had to recover from syntax errors.
func (t *Tree) HasError() bool {
	root := t.tree.RootNode()
	return root != nil && root.HasError()
}

// Source returns the bytes the tree was parsed from.
func (t *Tree) Source() []byte { return t.source }

func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}
