//go:build cgo

package syntax

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// methodKinds lists the node kinds treated as method declarations.
var methodKinds = map[string]map[string]bool{
	LangJava:   {"method_declaration": true},
	LangGo:     {"function_declaration": true, "method_declaration": true},
	LangPython: {"function_definition": true},
}

// ExtractMethods returns the method declarations of code in document order.
// Nested declarations (inner classes, closures defined with def) are included.
func ExtractMethods(code string, language string) ([]Method, error) {
	language = NormalizeLanguage(language)
	kinds, ok := methodKinds[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	source := []byte(code)
	tree, err := parse(source, language)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var methods []Method
	walk(tree.RootNode(), func(n *tree_sitter.Node) bool {
		if kinds[n.Kind()] {
			m := Method{
				Line: int(n.StartPosition().Row),
				Text: n.Utf8Text(source),
			}
			if name := n.ChildByFieldName("name"); name != nil {
				m.Name = name.Utf8Text(source)
			}
			methods = append(methods, m)
		}
		return true
	})
	return methods, nil
}
