package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LangJava, DetectLanguage("src/main/java/Calc.java"))
	assert.Equal(t, LangGo, DetectLanguage("main.GO"))
	assert.Equal(t, LangPython, DetectLanguage("tool.py"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func TestDetectCodeLang(t *testing.T) {
	assert.Equal(t, LangJava, DetectCodeLang("class CalcTest {\n  @Test void add() {}\n}"))
	assert.Equal(t, LangGo, DetectCodeLang("package calc\n\nfunc Add(a, b int) int { return a + b }\n"))
	assert.Equal(t, LangPython, DetectCodeLang("def test_add():\n    assert add(1, 2) == 3\n"))
	assert.Equal(t, LangJava, DetectCodeLang(""))
}

func TestLangSuffix(t *testing.T) {
	assert.Equal(t, ".java", LangSuffix("java"))
	assert.Equal(t, ".go", LangSuffix("golang"))
	assert.Equal(t, ".py", LangSuffix("py"))
	assert.Equal(t, "", LangSuffix("cobol"))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("Java"))
	assert.True(t, IsSupported("golang"))
	assert.False(t, IsSupported("ruby"))
}

func TestFindMethod(t *testing.T) {
	methods := []Method{{Line: 1, Name: "add"}, {Line: 5, Name: "sub"}}
	m, ok := FindMethod(methods, "sub")
	assert.True(t, ok)
	assert.Equal(t, 5, m.Line)

	_, ok = FindMethod(methods, "mul")
	assert.False(t, ok)
}
