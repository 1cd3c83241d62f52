//go:build !cgo

package syntax

import "fmt"

// ExtractMethods needs tree-sitter and always fails without cgo.
func ExtractMethods(code string, language string) ([]Method, error) {
	if !IsSupported(language) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return nil, ErrParserUnavailable
}

// Validate reports code as valid without cgo (tree-sitter unavailable).
func Validate(code string, language string) (*ValidationResult, error) {
	return &ValidationResult{
		Valid:       true,
		Language:    NormalizeLanguage(language),
		ParsedBytes: len(code),
	}, nil
}
