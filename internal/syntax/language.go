package syntax

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Languages with tree-sitter grammars.
const (
	LangJava   = "java"
	LangGo     = "go"
	LangPython = "python"
)

// DetectLanguage determines the programming language from a file name.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".java":
		return LangJava
	case ".go":
		return LangGo
	case ".py", ".pyw":
		return LangPython
	case ".kt", ".kts":
		return "kotlin"
	case ".json":
		return "json"
	case ".md", ".markdown":
		return "markdown"
	default:
		return ""
	}
}

// NormalizeLanguage maps aliases (golang, py, ...) to the canonical name.
func NormalizeLanguage(lang string) string {
	switch l := strings.ToLower(strings.TrimSpace(lang)); l {
	case "golang":
		return LangGo
	case "py", "python3":
		return LangPython
	default:
		return l
	}
}

var (
	goPackageRegex = regexp.MustCompile(`(?m)^package\s+\w+\s*$`)
	goFuncRegex    = regexp.MustCompile(`(?m)^func\s`)
	pyDefRegex     = regexp.MustCompile(`(?m)^\s*(async\s+)?def\s+\w+\s*\(.*\)\s*(->\s*[^:]+)?:\s*$`)
)

// DetectCodeLang guesses the language of a code snippet. Generated tests are
// Java unless the snippet clearly is Go or Python.
func DetectCodeLang(code string) string {
	switch {
	case goPackageRegex.MatchString(code) && goFuncRegex.MatchString(code):
		return LangGo
	case pyDefRegex.MatchString(code) && !strings.Contains(code, ";"):
		return LangPython
	default:
		return LangJava
	}
}

// LangSuffix returns the file suffix used for virtual files of lang.
func LangSuffix(lang string) string {
	switch NormalizeLanguage(lang) {
	case LangJava:
		return ".java"
	case LangGo:
		return ".go"
	case LangPython:
		return ".py"
	default:
		return ""
	}
}

// SupportedLanguages returns the languages method extraction and validation
// work with.
func SupportedLanguages() []string {
	return []string{LangJava, LangGo, LangPython}
}

// IsSupported checks if a language has a tree-sitter grammar.
func IsSupported(language string) bool {
	language = NormalizeLanguage(language)
	for _, lang := range SupportedLanguages() {
		if lang == language {
			return true
		}
	}
	return false
}
