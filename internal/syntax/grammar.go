//go:build cgo

package syntax

import (
	"fmt"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

var grammars = map[string]func() unsafe.Pointer{
	LangJava:   tree_sitter_java.Language,
	LangGo:     tree_sitter_go.Language,
	LangPython: tree_sitter_python.Language,
}

// parse returns the syntax tree of code. The caller closes the tree.
func parse(code []byte, language string) (*tree_sitter.Tree, error) {
	grammar, ok := grammars[NormalizeLanguage(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tree_sitter.NewLanguage(grammar())); err != nil {
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}

	tree := parser.Parse(code, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s code", language)
	}
	return tree, nil
}

// walk calls fn for every node below n in document order. Returning false
// skips the children of that node.
func walk(n *tree_sitter.Node, fn func(*tree_sitter.Node) bool) {
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if fn(child) {
			walk(child, fn)
		}
	}
}
