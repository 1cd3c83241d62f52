package syntax

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedLanguage is returned for languages without a grammar
	ErrUnsupportedLanguage = errors.New("language not supported")
	// ErrParserUnavailable is returned by binaries built without cgo
	ErrParserUnavailable = errors.New("tree-sitter is not available in this build")
)

// Method is a method declaration found by ExtractMethods.
type Method struct {
	Line int    `json:"line"` // zero-based
	Name string `json:"name"`
	Text string `json:"text"`
}

// SyntaxError represents a single syntax error found during validation.
type SyntaxError struct {
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Message   string `json:"message"`
	ErrorNode string `json:"error_node"` // ERROR or MISSING
}

func (e SyntaxError) String() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// ValidationResult contains the results of syntax validation.
type ValidationResult struct {
	Valid       bool          `json:"valid"`
	Errors      []SyntaxError `json:"errors,omitempty"`
	Language    string        `json:"language"`
	ParsedBytes int           `json:"parsed_bytes"`
}

// FindMethod returns the declaration named name, or false.
func FindMethod(methods []Method, name string) (Method, bool) {
	for _, m := range methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}
