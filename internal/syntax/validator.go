//go:build cgo

package syntax

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Validate parses code and collects ERROR and MISSING nodes.
func Validate(code string, language string) (*ValidationResult, error) {
	language = NormalizeLanguage(language)
	result := &ValidationResult{Valid: true, Language: language, ParsedBytes: len(code)}
	if strings.TrimSpace(code) == "" {
		return result, nil
	}

	source := []byte(code)
	tree, err := parse(source, language)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return result, nil
	}

	walk(root, func(n *tree_sitter.Node) bool {
		switch {
		case n.IsError():
			result.Errors = append(result.Errors, newSyntaxError(n, "syntax error near '"+snippet(n.Utf8Text(source))+"'", "ERROR"))
			return false
		case n.IsMissing():
			result.Errors = append(result.Errors, newSyntaxError(n, "missing "+n.Kind(), "MISSING"))
			return false
		}
		return n.HasError()
	})

	if len(result.Errors) == 0 {
		result.Errors = append(result.Errors, newSyntaxError(root, "syntax error: parsing failed with error recovery", "ERROR"))
	}
	result.Valid = false
	return result, nil
}

func newSyntaxError(n *tree_sitter.Node, message, kind string) SyntaxError {
	pos := n.StartPosition()
	return SyntaxError{
		Line:      int(pos.Row) + 1,
		Column:    int(pos.Column) + 1,
		Message:   message,
		ErrorNode: kind,
	}
}

func snippet(text string) string {
	if len(text) > 50 {
		text = text[:50] + "..."
	}
	return strings.ReplaceAll(text, "\n", "\\n")
}
