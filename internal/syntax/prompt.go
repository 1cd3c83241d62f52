package syntax

import (
	"regexp"
	"strings"
)

const (
	genTestMarker  = "Instruction for this step:"
	codeQLPrefix   = "The required"
	queryCodeBlock = "# QUERY:"
)

var (
	// refTestRegex captures the fenced block following the referable test
	// header, including the fence's info string and the final line break.
	refTestRegex = regexp.MustCompile("(?s)# Referable Test Case\n```(.*?\n)```")
	// genTestRegex captures the first fenced block without info string.
	genTestRegex = regexp.MustCompile("(?s)```\n((?:.*?\n)??)```")
)

// IsGenTestPrompt reports whether msg asks the model to generate a test.
func IsGenTestPrompt(msg string) bool {
	return strings.Contains(msg, genTestMarker)
}

// IsCodeQLPrompt reports whether msg is a CodeQL follow-up prompt.
func IsCodeQLPrompt(msg string) bool {
	return strings.HasPrefix(msg, codeQLPrefix)
}

// ShouldGenTestPrompt reports whether the reply to msg contains a generated test.
func ShouldGenTestPrompt(msg string) bool {
	return IsGenTestPrompt(msg) || IsCodeQLPrompt(msg)
}

// ExtractRefTestCode returns the referable test case embedded in a prompt.
func ExtractRefTestCode(msg string) (string, bool) {
	m := refTestRegex.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractGenTestCode returns the test code of a model reply. Blocks that are
// CodeQL queries are not test code.
func ExtractGenTestCode(msg string) (string, bool) {
	m := genTestRegex.FindStringSubmatch(msg)
	if m == nil || strings.HasPrefix(strings.TrimSpace(m[1]), queryCodeBlock) {
		return "", false
	}
	return m[1], true
}
